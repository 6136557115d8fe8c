package experiment

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
)

// Result summarises one page load.
type Result struct {
	Conversion State
	Assignment Assignment
	Assigned   bool
	Applied    int
}

// Runner wires the experiment pipeline for a page load.
type Runner struct {
	svc      Service
	assigner *Assigner
	applier  Applier
	tracker  *Tracker
	log      zerolog.Logger
}

// NewRunner creates a runner over one session store.
func NewRunner(svc Service, store Store, logger zerolog.Logger) *Runner {
	return &Runner{
		svc:      svc,
		assigner: NewAssigner(svc, store, logger),
		tracker:  NewTracker(svc, store, logger),
		log:      logger,
	}
}

// Load records a page view, checks the assignment stored by an earlier load
// for a conversion, then assigns and applies this page's variant. Step
// failures are independent; their errors are joined in the result.
func (r *Runner) Load(ctx context.Context, pageID string, doc *dom.Document) (Result, error) {
	var res Result
	if pageID == "" {
		r.log.Warn().Msg("CMS Tracking: No page ID found")
		return res, content.ErrMissingConfig
	}

	// Page view, fire and forget
	if err := r.svc.RecordPageView(ctx, pageID); err != nil {
		r.log.Debug().Err(err).Str("page_id", pageID).Msg("Page view not recorded")
	}

	var errs []error

	// Conversion against the previous assignment
	state, err := r.tracker.Check(ctx, pageID)
	res.Conversion = state
	if err != nil {
		errs = append(errs, err)
	}

	// Variant
	asg, m, ok, err := r.assigner.Assign(ctx, pageID)
	res.Assignment, res.Assigned = asg, ok
	if err != nil {
		errs = append(errs, err)
	}
	if err == nil && len(m) > 0 {
		n, err := r.applier.Apply(doc, m)
		if err != nil {
			r.log.Error().Err(err).Str("content_version_id", asg.ContentVersionID).Msg("Error applying split test variant")
			errs = append(errs, err)
		}
		res.Applied = n
	}

	return res, errors.Join(errs...)
}
