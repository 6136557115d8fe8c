package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
	"github.com/gosight/pagelab/internal/resolver"
)

// ErrSaveInProgress is returned when Save is called while a save is pending.
var ErrSaveInProgress = errors.New("save already in progress")

// State is the save button state.
type State int

const (
	StateIdle State = iota
	StateSaving
	StateSaved
	StateFailed
)

// Label is the text the save button shows in this state.
func (s State) Label() string {
	switch s {
	case StateSaving:
		return "Saving..."
	case StateSaved:
		return "Saved!"
	case StateFailed:
		return "Try Again"
	default:
		return "Save Changes"
	}
}

// Session is one operator's editing session on one page.
type Session struct {
	pageID string
	doc    *dom.Document
	source ContentSource
	binder *Binder
	saver  *Saver
	log    zerolog.Logger

	mu       sync.Mutex
	state    State
	snapshot *dom.Document
}

// NewSession prepares an editing session. An empty pageID is a
// missing-configuration error.
func NewSession(pageID string, doc *dom.Document, source ContentSource, sink ContentSink, logger zerolog.Logger) (*Session, error) {
	if pageID == "" {
		logger.Warn().Msg("Editor initialization failed: no page ID provided")
		return nil, content.ErrMissingConfig
	}
	return &Session{
		pageID: pageID,
		doc:    doc,
		source: source,
		binder: NewBinder(logger),
		saver:  NewSaver(sink, logger),
		log:    logger.With().Str("page_id", pageID).Logger(),
	}, nil
}

// Init fetches the page's content map and binds the matching regions. A fetch
// failure leaves the document untouched.
func (s *Session) Init(ctx context.Context) (int, error) {
	m, err := s.source.PageContent(ctx, s.pageID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to initialize editor")
		return 0, fmt.Errorf("%w: %w", content.ErrFetch, err)
	}

	n := s.binder.Bind(resolver.Resolve(s.doc, m))

	snap, err := s.doc.Clone()
	if err != nil {
		return n, err
	}
	s.mu.Lock()
	s.snapshot = snap
	s.state = StateIdle
	s.mu.Unlock()
	return n, nil
}

// Save sends the current edits. It refuses to start while another save is
// pending and otherwise can always be retried. The previous save's flash is
// cleared first.
func (s *Session) Save(ctx context.Context) (content.ChangeSet, error) {
	s.mu.Lock()
	if s.state == StateSaving {
		s.mu.Unlock()
		return nil, ErrSaveInProgress
	}
	s.state = StateSaving
	s.mu.Unlock()

	// A leftover flash would otherwise leak into an enclosing region's HTML.
	ClearFlash(s.doc)
	cs, err := s.saver.Save(ctx, s.pageID, s.doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	s.state = StateSaved
	return cs, nil
}

// State returns the current save state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// KeyDown reports whether the default action for key inside n is prevented.
func (s *Session) KeyDown(n *html.Node, key string) bool {
	return s.binder.SuppressKey(n, key)
}

// Cancel discards every edit made since Init.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	restored, err := s.snapshot.Clone()
	if err != nil {
		return err
	}
	*s.doc = *restored
	ClearFlash(s.doc)
	s.state = StateIdle
	return nil
}

// Document returns the document being edited.
func (s *Session) Document() *dom.Document {
	return s.doc
}

// PageID returns the page identifier.
func (s *Session) PageID() string {
	return s.pageID
}
