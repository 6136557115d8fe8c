// Package splittest runs content split tests: lifecycle, sticky weighted
// variant assignment and per-visitor conversion dedup.
package splittest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/gosight/pagelab/internal/storage"
)

var (
	ErrInvalidTestType  = errors.New("invalid test type")
	ErrInvalidGoalPage  = errors.New("invalid goal page")
	ErrInvalidVersion   = errors.New("invalid content version")
	ErrActiveTestExists = errors.New("an active test of this type already exists for this page")
	ErrTooFewVariants   = errors.New("a test needs at least 2 variants")
)

// Repository is the persistence the service needs.
type Repository interface {
	Page(ctx context.Context, id int64) (storage.Page, error)
	ContentVersion(ctx context.Context, id int64) (storage.ContentVersion, error)
	CreateTest(ctx context.Context, t storage.SplitTest) (int64, error)
	Test(ctx context.Context, id int64) (storage.SplitTest, error)
	ActiveTest(ctx context.Context, pageID int64, testType string) (storage.SplitTest, error)
	SetTestActive(ctx context.Context, id int64, active bool) error
	AddVariant(ctx context.Context, v storage.TestVariant) (int64, error)
	Variants(ctx context.Context, testID int64) ([]storage.TestVariant, error)
	VisitorVariant(ctx context.Context, testID int64, visitorID string) (int64, error)
	CreateVisitorSession(ctx context.Context, s storage.VisitorSession) (int64, error)
	RecordConversion(ctx context.Context, c storage.Conversion) (bool, error)
}

// Visitor identifies who is being assigned.
type Visitor struct {
	ID        string
	UserAgent string
	IPAddress string
	Referrer  string
}

// Assignment is the variant a visitor sees for a page's active test.
type Assignment struct {
	Test    storage.SplitTest
	Variant storage.TestVariant
}

// NewTest is the input for creating a test.
type NewTest struct {
	PageID     int64
	Name       string
	Type       string
	GoalPageID int64
}

type Service struct {
	repo  Repository
	float func() float64
	log   zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, float: rand.Float64, log: logger}
}

// PickVariant selects a variant by weight. r is uniform in [0, 1). Variants
// with a non-positive weight are never picked unless every weight is
// non-positive, in which case the pick is uniform.
func PickVariant(variants []storage.TestVariant, r float64) (storage.TestVariant, bool) {
	if len(variants) == 0 {
		return storage.TestVariant{}, false
	}

	total := 0
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total == 0 {
		return variants[int(r*float64(len(variants)))%len(variants)], true
	}

	target := r * float64(total)
	acc := 0.0
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		acc += float64(v.Weight)
		if target < acc {
			return v, true
		}
	}
	// r rounding at the top of the range
	for i := len(variants) - 1; i >= 0; i-- {
		if variants[i].Weight > 0 {
			return variants[i], true
		}
	}
	return storage.TestVariant{}, false
}

// VariantFor returns the visitor's variant for the page's active test,
// assigning one by weight on first sight. ok is false when the page has no
// active test or the test has no variants.
func (s *Service) VariantFor(ctx context.Context, pageID int64, testType string, visitor Visitor) (Assignment, bool, error) {
	test, err := s.repo.ActiveTest(ctx, pageID, testType)
	if errors.Is(err, storage.ErrNotFound) {
		return Assignment{}, false, nil
	}
	if err != nil {
		return Assignment{}, false, err
	}

	variants, err := s.repo.Variants(ctx, test.ID)
	if err != nil {
		return Assignment{}, false, err
	}

	// Sticky: a visitor keeps the variant they were first given
	variantID, err := s.repo.VisitorVariant(ctx, test.ID, visitor.ID)
	switch {
	case err == nil:
		if v, ok := findVariant(variants, variantID); ok {
			return Assignment{Test: test, Variant: v}, true, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return Assignment{}, false, err
	}

	picked, ok := PickVariant(variants, s.float())
	if !ok {
		return Assignment{}, false, nil
	}

	// Concurrent first requests race here; the stored row wins
	stored, err := s.repo.CreateVisitorSession(ctx, storage.VisitorSession{
		TestID:    test.ID,
		VariantID: picked.ID,
		VisitorID: visitor.ID,
		UserAgent: visitor.UserAgent,
		IPAddress: visitor.IPAddress,
		Referrer:  visitor.Referrer,
	})
	if err != nil {
		return Assignment{}, false, err
	}
	if v, ok := findVariant(variants, stored); ok {
		picked = v
	}

	s.log.Debug().
		Int64("test_id", test.ID).
		Int64("variant_id", picked.ID).
		Str("visitor_id", visitor.ID).
		Msg("Visitor assigned")
	return Assignment{Test: test, Variant: picked}, true, nil
}

// RecordConversion records the visitor's conversion. It reports false when
// the visitor had already converted in this test.
func (s *Service) RecordConversion(ctx context.Context, testID, variantID int64, visitorID string) (bool, error) {
	return s.repo.RecordConversion(ctx, storage.Conversion{
		TestID:    testID,
		VariantID: variantID,
		VisitorID: visitorID,
	})
}

func (s *Service) Test(ctx context.Context, id int64) (storage.SplitTest, error) {
	return s.repo.Test(ctx, id)
}

// Create validates and stores a new test. New tests start stopped.
func (s *Service) Create(ctx context.Context, in NewTest) (storage.SplitTest, error) {
	if in.Type != storage.VersionContent && in.Type != storage.VersionDesign {
		return storage.SplitTest{}, ErrInvalidTestType
	}

	page, err := s.repo.Page(ctx, in.PageID)
	if err != nil {
		return storage.SplitTest{}, err
	}

	// Goal page must live on the same website
	goal, err := s.repo.Page(ctx, in.GoalPageID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && goal.WebsiteID != page.WebsiteID) {
		return storage.SplitTest{}, ErrInvalidGoalPage
	}
	if err != nil {
		return storage.SplitTest{}, err
	}

	if err := s.ensureNoActive(ctx, page.ID, in.Type); err != nil {
		return storage.SplitTest{}, err
	}

	t := storage.SplitTest{
		PageID:     page.ID,
		Name:       in.Name,
		Type:       in.Type,
		GoalPageID: goal.ID,
	}
	t.ID, err = s.repo.CreateTest(ctx, t)
	if err != nil {
		return storage.SplitTest{}, err
	}
	s.log.Info().Int64("test_id", t.ID).Int64("page_id", t.PageID).Str("type", t.Type).Msg("Split test created")
	return t, nil
}

// AddVariant attaches a content version of the test's page and type.
func (s *Service) AddVariant(ctx context.Context, testID int64, name string, versionID int64, weight int) (storage.TestVariant, error) {
	test, err := s.repo.Test(ctx, testID)
	if err != nil {
		return storage.TestVariant{}, err
	}

	version, err := s.repo.ContentVersion(ctx, versionID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && (version.PageID != test.PageID || version.Type != test.Type)) {
		return storage.TestVariant{}, ErrInvalidVersion
	}
	if err != nil {
		return storage.TestVariant{}, err
	}

	if weight <= 0 {
		weight = 1
	}
	v := storage.TestVariant{TestID: test.ID, Name: name, ContentVersionID: version.ID, Weight: weight}
	v.ID, err = s.repo.AddVariant(ctx, v)
	return v, err
}

// Start runs a test. It needs at least two variants and no other running
// test of the same type on the page.
func (s *Service) Start(ctx context.Context, testID int64) error {
	test, err := s.repo.Test(ctx, testID)
	if err != nil {
		return err
	}
	if test.Active {
		return nil
	}

	variants, err := s.repo.Variants(ctx, testID)
	if err != nil {
		return err
	}
	if len(variants) < 2 {
		return ErrTooFewVariants
	}
	if err := s.ensureNoActive(ctx, test.PageID, test.Type); err != nil {
		return err
	}

	if err := s.repo.SetTestActive(ctx, testID, true); err != nil {
		return err
	}
	s.log.Info().Int64("test_id", testID).Msg("Split test started")
	return nil
}

func (s *Service) Stop(ctx context.Context, testID int64) error {
	if err := s.repo.SetTestActive(ctx, testID, false); err != nil {
		return err
	}
	s.log.Info().Int64("test_id", testID).Msg("Split test stopped")
	return nil
}

func (s *Service) ensureNoActive(ctx context.Context, pageID int64, testType string) error {
	existing, err := s.repo.ActiveTest(ctx, pageID, testType)
	if err == nil {
		return fmt.Errorf("%w (test %d)", ErrActiveTestExists, existing.ID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func findVariant(variants []storage.TestVariant, id int64) (storage.TestVariant, bool) {
	for _, v := range variants {
		if v.ID == id {
			return v, true
		}
	}
	return storage.TestVariant{}, false
}
