package experiment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gosight/pagelab/internal/content"
)

// Assigner asks the experiment service for the page's active content test and
// records the visitor's assignment.
type Assigner struct {
	svc   Service
	store Store
	log   zerolog.Logger
}

// NewAssigner creates an assigner.
func NewAssigner(svc Service, store Store, logger zerolog.Logger) *Assigner {
	return &Assigner{svc: svc, store: store, log: logger}
}

// Assign returns the assignment and the variant's content map. ok is false
// when the page has no active content test. The assignment is stored before
// the variant content is requested, so a content failure still leaves it
// available for conversion tracking.
func (a *Assigner) Assign(ctx context.Context, pageID string) (Assignment, content.Map, bool, error) {
	info, err := a.svc.ActiveVariant(ctx, pageID, TestTypeContent)
	if err != nil {
		a.log.Error().Err(err).Str("page_id", pageID).Msg("Error checking for split tests")
		return Assignment{}, nil, false, fmt.Errorf("%w: %w", content.ErrFetch, err)
	}
	if !info.ActiveTest {
		return Assignment{}, nil, false, nil
	}

	asg := Assignment{
		TestID:           info.TestID,
		VariantID:        info.VariantID,
		TestType:         info.TestType,
		ContentVersionID: info.ContentVersionID,
		GoalPageID:       info.GoalPageID,
	}
	if err := a.store.Save(ctx, asg); err != nil {
		return asg, nil, true, fmt.Errorf("store assignment: %w", err)
	}

	a.log.Debug().
		Str("test_id", asg.TestID).
		Str("variant_id", asg.VariantID).
		Msg("Visitor assigned to variant")

	if asg.TestType != "" && asg.TestType != TestTypeContent {
		return asg, nil, true, nil
	}
	if asg.ContentVersionID == "" {
		return asg, nil, true, nil
	}

	m, err := a.svc.ContentVersion(ctx, asg.ContentVersionID)
	if err != nil {
		a.log.Error().Err(err).Str("content_version_id", asg.ContentVersionID).Msg("Error applying split test variant")
		return asg, nil, true, fmt.Errorf("%w: %w", content.ErrFetch, err)
	}
	return asg, m, true, nil
}
