package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/gosight/pagelab/internal/apiclient"
	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/experiment"
)

func newApplyCmd(opts *options) *cobra.Command {
	var contentPath string

	cmd := &cobra.Command{
		Use:     "apply <file>",
		Short:   "Apply a content map to a page offline",
		GroupID: "experiments",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(contentPath)
			if err != nil {
				return err
			}
			var m content.Map
			if err := json.Unmarshal(data, &m); err != nil {
				return fmt.Errorf("invalid content map %s: %w", contentPath, err)
			}

			doc, err := readDoc(cmd, args[0])
			if err != nil {
				return err
			}
			n, err := experiment.Applier{}.Apply(doc, m)
			if err != nil {
				return err
			}
			log := opts.logger(cmd)
			log.Info().Int("applied", n).Msg("Content applied")
			return opts.writeDoc(cmd, doc)
		},
	}
	cmd.Flags().StringVarP(&contentPath, "content", "c", "", "JSON file holding the selector to HTML map")
	cmd.MarkFlagRequired("content")
	return cmd
}

func newLoadCmd(opts *options) *cobra.Command {
	var statePath string

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Run the visitor experiment pipeline on a page",
		Long: `Record a page view, convert the assignment kept in the state file when this
page is its goal, then assign and apply this page's variant. The state file
plays the role of the visitor's browser: it keeps the session assignment and
the visitor cookie between runs.`,
		GroupID: "experiments",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger(cmd)
			doc, err := readDoc(cmd, args[0])
			if err != nil {
				return err
			}
			pageID, err := opts.pageIDFor(doc)
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			client, err := apiclient.New(cfg.API, cfg.Editor.OperatorToken)
			if err != nil {
				return err
			}

			store := newFileStore(statePath)
			cookie := cfg.Session.CookieName
			visitorID, err := store.VisitorID()
			if err != nil {
				return err
			}
			if visitorID != "" {
				client.SetCookie(cookie, visitorID)
			}

			res, err := experiment.NewRunner(client, store, log).Load(cmd.Context(), pageID, doc)
			if err != nil {
				log.Warn().Err(err).Msg("Experiment pipeline incomplete")
			}
			if issued := client.Cookie(cookie); issued != "" && issued != visitorID {
				if err := store.SetVisitorID(issued); err != nil {
					return err
				}
			}
			log.Info().
				Str("page_id", pageID).
				Str("conversion", res.Conversion.String()).
				Bool("assigned", res.Assigned).
				Str("variant_id", res.Assignment.VariantID).
				Int("applied", res.Applied).
				Msg("Page loaded")

			if opts.jsonOutput {
				return printJSON(cmd, res)
			}
			return opts.writeDoc(cmd, doc)
		},
	}
	cmd.Flags().StringVar(&statePath, "state", ".pagectl-session.json", "Session state file")
	return cmd
}

// sessionState is the content of the state file. The visitor id outlives
// the assignment, like a cookie outlives session storage.
type sessionState struct {
	VisitorID  string                 `json:"visitor_id,omitempty"`
	Assignment *experiment.Assignment `json:"assignment,omitempty"`
}

// fileStore is an experiment.Store persisted as a JSON file.
type fileStore struct {
	mu   sync.Mutex
	path string
}

var _ experiment.Store = (*fileStore)(nil)

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

func (s *fileStore) Load(ctx context.Context) (experiment.Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil || st.Assignment == nil {
		return experiment.Assignment{}, false, err
	}
	return *st.Assignment, true, nil
}

func (s *fileStore) Save(ctx context.Context, a experiment.Assignment) error {
	return s.update(func(st *sessionState) { st.Assignment = &a })
}

func (s *fileStore) Clear(ctx context.Context) error {
	return s.update(func(st *sessionState) { st.Assignment = nil })
}

// VisitorID returns the stored visitor cookie value, or "".
func (s *fileStore) VisitorID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	return st.VisitorID, err
}

func (s *fileStore) SetVisitorID(id string) error {
	return s.update(func(st *sessionState) { st.VisitorID = id })
}

func (s *fileStore) update(fn func(*sessionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	fn(&st)
	return s.write(st)
}

func (s *fileStore) read() (sessionState, error) {
	var st sessionState
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return sessionState{}, fmt.Errorf("corrupt session state %s: %w", s.path, err)
	}
	return st, nil
}

// write stores st, removing the file once it holds nothing.
func (s *fileStore) write(st sessionState) error {
	if st == (sessionState{}) {
		err := os.Remove(s.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}
