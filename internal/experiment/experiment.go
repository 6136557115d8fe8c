// Package experiment applies server-assigned content variants to a page and
// records goal conversions at most once per stored assignment.
package experiment

import (
	"context"
	"sync"

	"github.com/gosight/pagelab/internal/content"
)

// TestTypeContent is the only test type whose variants are applied as
// content maps.
const TestTypeContent = "content"

// Assignment is the visitor's experiment assignment for the browsing session.
type Assignment struct {
	TestID           string `json:"test_id"`
	VariantID        string `json:"variant_id"`
	TestType         string `json:"test_type,omitempty"`
	ContentVersionID string `json:"content_version_id,omitempty"`
	GoalPageID       string `json:"goal_page_id,omitempty"`
}

// Valid reports whether the assignment can attribute a conversion.
func (a Assignment) Valid() bool {
	return a.TestID != "" && a.VariantID != ""
}

// VariantInfo is the experiment service's answer for a page.
type VariantInfo struct {
	ActiveTest       bool
	TestID           string
	VariantID        string
	TestType         string
	ContentVersionID string
	GoalPageID       string
}

// Service is the remote experiment collaborator.
type Service interface {
	ActiveVariant(ctx context.Context, pageID, testType string) (VariantInfo, error)
	ContentVersion(ctx context.Context, versionID string) (content.Map, error)
	GoalPage(ctx context.Context, testID string) (string, error)
	RecordConversion(ctx context.Context, testID, variantID string) error
	RecordPageView(ctx context.Context, pageID string) error
}

// Store holds the assignment for one browsing session. Clear is the only way
// an assignment is consumed.
type Store interface {
	Load(ctx context.Context) (Assignment, bool, error)
	Save(ctx context.Context, a Assignment) error
	Clear(ctx context.Context) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	a   Assignment
	set bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a, s.set, nil
}

func (s *MemoryStore) Save(ctx context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a, s.set = a, true
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a, s.set = Assignment{}, false
	return nil
}
