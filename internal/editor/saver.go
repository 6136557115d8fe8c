package editor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
)

// ContentSource fetches the content map for a page.
type ContentSource interface {
	PageContent(ctx context.Context, pageID string) (content.Map, error)
}

// ContentSink persists a ChangeSet for a page. A nil error is the only
// success signal.
type ContentSink interface {
	SavePageContent(ctx context.Context, pageID string, cs content.ChangeSet) error
}

// Saver sends the current edits of a document to a ContentSink.
type Saver struct {
	sink ContentSink
	log  zerolog.Logger
}

// NewSaver creates a saver.
func NewSaver(sink ContentSink, logger zerolog.Logger) *Saver {
	return &Saver{sink: sink, log: logger}
}

// Save collects a fresh ChangeSet from doc and sends it. Nothing is cached
// between attempts, so a failed save can simply be retried. On success every
// marked node is flashed.
func (s *Saver) Save(ctx context.Context, pageID string, doc *dom.Document) (content.ChangeSet, error) {
	entries, err := Entries(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", content.ErrSave, err)
	}
	cs := changeSetOf(entries)

	if err := s.sink.SavePageContent(ctx, pageID, cs); err != nil {
		s.log.Error().Err(err).Str("page_id", pageID).Msg("Error saving content")
		return nil, fmt.Errorf("%w: %w", content.ErrSave, err)
	}

	for _, e := range entries {
		dom.SetAttr(e.Node, AttrFlash, FlashSaved)
	}
	s.log.Info().Str("page_id", pageID).Int("regions", len(cs)).Msg("Content saved")
	return cs, nil
}

// ClearFlash removes the save confirmation from every node in doc.
func ClearFlash(doc *dom.Document) {
	for _, n := range doc.Find("[" + AttrFlash + "]") {
		dom.RemoveAttr(n, AttrFlash)
	}
}
