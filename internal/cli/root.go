// Package cli implements pagectl, which drives the editor and experiment
// pipelines on local HTML files against the content API.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gosight/pagelab/internal/apiclient"
	"github.com/gosight/pagelab/internal/config"
	"github.com/gosight/pagelab/internal/dom"
	"github.com/gosight/pagelab/internal/site"
)

var version = "dev"

func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// options are the global flags shared by every command.
type options struct {
	configPath string
	apiURL     string
	token      string
	pageID     string
	out        string
	jsonOutput bool
	verbose    bool
}

// Execute runs pagectl with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the pagectl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:     "pagectl",
		Version: version,
		Short:   "Edit hosted pages and run content experiments from the command line",
		Long: `pagectl binds the editable regions of a page, collects and saves edits,
and runs the visitor experiment pipeline on local HTML files, talking to the
content API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", config.Path("config/pagectl.yaml"), "Config file")
	pf.StringVar(&opts.apiURL, "api", "", "Content API base URL (overrides config)")
	pf.StringVar(&opts.token, "token", "", "Operator token (overrides config)")
	pf.StringVar(&opts.pageID, "page", "", "Page ID (default: read from the page markup)")
	pf.StringVarP(&opts.out, "out", "o", "", "Write the resulting HTML to this file instead of stdout")
	pf.BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	root.AddGroup(&cobra.Group{ID: "editor", Title: "Editing:"})
	root.AddGroup(&cobra.Group{ID: "experiments", Title: "Experiments:"})

	root.AddCommand(
		newBindCmd(opts),
		newCollectCmd(opts),
		newSaveCmd(opts),
		newActivateCmd(opts),
		newApplyCmd(opts),
		newLoadCmd(opts),
	)
	return root
}

func (o *options) logger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.InfoLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		Level(level).
		With().Timestamp().Logger()
}

// loadConfig reads the config file. A missing file means defaults.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", o.configPath, err)
	}

	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.token != "" {
		cfg.Editor.OperatorToken = o.token
	}
	return cfg, nil
}

func (o *options) client() (*apiclient.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return apiclient.New(cfg.API, cfg.Editor.OperatorToken)
}

// readDoc parses an HTML file, or stdin for "-".
func readDoc(cmd *cobra.Command, path string) (*dom.Document, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return dom.Parse(r)
}

// pageIDFor returns the --page flag or the page id in the markup.
func (o *options) pageIDFor(doc *dom.Document) (string, error) {
	if o.pageID != "" {
		return o.pageID, nil
	}
	cfg, err := site.PageConfig(doc)
	if err != nil {
		return "", fmt.Errorf("%w: pass --page or add a cms-page-id meta tag", err)
	}
	return cfg.PageID, nil
}

func (o *options) writeDoc(cmd *cobra.Command, doc *dom.Document) error {
	out, err := doc.Render()
	if err != nil {
		return err
	}
	if o.out == "" {
		_, err = io.WriteString(cmd.OutOrStdout(), out)
		return err
	}
	return os.WriteFile(o.out, []byte(out), 0o644)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
