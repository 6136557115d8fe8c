package experiment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gosight/pagelab/internal/content"
)

// State is the conversion state of the current session.
type State int

const (
	NoAssignment State = iota
	Assigned
	Converted
)

func (s State) String() string {
	switch s {
	case Assigned:
		return "assigned"
	case Converted:
		return "converted"
	default:
		return "no_assignment"
	}
}

// Tracker records a conversion when the visitor reaches the goal page of the
// test they were assigned to.
type Tracker struct {
	svc   Service
	store Store
	log   zerolog.Logger
}

// NewTracker creates a tracker.
func NewTracker(svc Service, store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{svc: svc, store: store, log: logger}
}

// Check compares pageID with the goal page of the stored assignment. On a
// match the conversion is issued and the assignment cleared whatever the
// result of the record call, so a session attempts at most one conversion
// per assignment.
func (t *Tracker) Check(ctx context.Context, pageID string) (State, error) {
	asg, ok, err := t.store.Load(ctx)
	if err != nil {
		return NoAssignment, fmt.Errorf("load assignment: %w", err)
	}
	if !ok || !asg.Valid() {
		return NoAssignment, nil
	}

	goal := asg.GoalPageID
	if goal == "" {
		goal, err = t.svc.GoalPage(ctx, asg.TestID)
		if err != nil {
			t.log.Error().Err(err).Str("test_id", asg.TestID).Msg("Error checking conversion")
			return Assigned, fmt.Errorf("%w: %w", content.ErrFetch, err)
		}
	}
	if goal != pageID {
		return Assigned, nil
	}

	if err := t.svc.RecordConversion(ctx, asg.TestID, asg.VariantID); err != nil {
		t.log.Warn().Err(fmt.Errorf("%w: %w", content.ErrConversion, err)).
			Str("test_id", asg.TestID).
			Str("variant_id", asg.VariantID).
			Msg("Conversion not recorded")
	} else {
		t.log.Debug().Str("test_id", asg.TestID).Str("variant_id", asg.VariantID).Msg("Conversion recorded")
	}

	if err := t.store.Clear(ctx); err != nil {
		return Converted, fmt.Errorf("clear assignment: %w", err)
	}
	return Converted, nil
}
