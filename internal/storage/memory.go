package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process store with the same behaviour as Postgres. The
// content API uses it when no DSN is configured.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	websites map[int64]Website
	pages    map[int64]Page
	versions map[int64]ContentVersion
	tests    map[int64]SplitTest
	variants map[int64]TestVariant
	sessions map[sessionKey]int64
	converts map[sessionKey]Conversion
}

type sessionKey struct {
	testID    int64
	visitorID string
}

func NewMemory() *Memory {
	return &Memory{
		websites: make(map[int64]Website),
		pages:    make(map[int64]Page),
		versions: make(map[int64]ContentVersion),
		tests:    make(map[int64]SplitTest),
		variants: make(map[int64]TestVariant),
		sessions: make(map[sessionKey]int64),
		converts: make(map[sessionKey]Conversion),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// EnsureWebsite registers a website by domain and returns its id.
func (m *Memory) EnsureWebsite(ctx context.Context, w Website) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.websites {
		if existing.Domain == w.Domain {
			return id, nil
		}
	}
	w.ID = m.id()
	m.websites[w.ID] = w
	return w.ID, nil
}

// EnsurePage registers a page by website and path and returns its id.
func (m *Memory) EnsurePage(ctx context.Context, p Page) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.websites[p.WebsiteID]
	if !ok {
		return 0, ErrNotFound
	}
	for id, existing := range m.pages {
		if existing.WebsiteID == p.WebsiteID && existing.Path == p.Path {
			return id, nil
		}
	}
	p.ID = m.id()
	p.Domain, p.Directory = w.Domain, w.Directory
	p.Active = true
	m.pages[p.ID] = p
	return p.ID, nil
}

func (m *Memory) Page(ctx context.Context, id int64) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[id]
	if !ok {
		return Page{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) PageByPath(ctx context.Context, domain, path string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sortedKeys(m.pages) {
		if p := m.pages[id]; p.Domain == domain && p.Path == path {
			return p, nil
		}
	}
	return Page{}, ErrNotFound
}

func (m *Memory) WebsiteByDomain(ctx context.Context, domain string) (Website, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sortedKeys(m.websites) {
		if w := m.websites[id]; w.Domain == domain {
			return w, nil
		}
	}
	return Website{}, ErrNotFound
}

func (m *Memory) ContentVersion(ctx context.Context, id int64) (ContentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return ContentVersion{}, ErrNotFound
	}
	v.Content = maps.Clone(v.Content)
	return v, nil
}

func (m *Memory) ActiveVersion(ctx context.Context, pageID int64) (ContentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sortedKeys(m.versions) {
		if v := m.versions[id]; v.PageID == pageID && v.Active {
			v.Content = maps.Clone(v.Content)
			return v, nil
		}
	}
	return ContentVersion{}, ErrNotFound
}

func (m *Memory) VersionByHash(ctx context.Context, pageID int64, hash, versionType string) (ContentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sortedKeys(m.versions) {
		if v := m.versions[id]; v.PageID == pageID && v.ContentHash == hash && v.Type == versionType {
			v.Content = maps.Clone(v.Content)
			return v, nil
		}
	}
	return ContentVersion{}, ErrNotFound
}

func (m *Memory) CreateVersion(ctx context.Context, v ContentVersion) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[v.PageID]; !ok {
		return 0, ErrNotFound
	}
	v.ID = m.id()
	v.Content = maps.Clone(v.Content)
	v.Active = false
	v.CreatedAt = time.Now()
	m.versions[v.ID] = v
	return v.ID, nil
}

func (m *Memory) ActivateVersion(ctx context.Context, pageID, versionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.versions[versionID]
	if !ok || target.PageID != pageID {
		return ErrNotFound
	}
	for id, v := range m.versions {
		if v.PageID == pageID {
			v.Active = id == versionID
			m.versions[id] = v
		}
	}
	return nil
}

func (m *Memory) CreateTest(ctx context.Context, t SplitTest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[t.PageID]; !ok {
		return 0, ErrNotFound
	}
	t.ID = m.id()
	t.CreatedAt = time.Now()
	t.StartDate = t.CreatedAt
	m.tests[t.ID] = t
	return t.ID, nil
}

func (m *Memory) Test(ctx context.Context, id int64) (SplitTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[id]
	if !ok {
		return SplitTest{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ActiveTest(ctx context.Context, pageID int64, testType string) (SplitTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sortedKeys(m.tests) {
		t := m.tests[id]
		if t.PageID == pageID && t.Active && (testType == "" || t.Type == testType) {
			return t, nil
		}
	}
	return SplitTest{}, ErrNotFound
}

func (m *Memory) SetTestActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	t.Active = active
	if active {
		t.StartDate, t.EndDate = now, nil
	} else {
		t.EndDate = &now
	}
	m.tests[id] = t
	return nil
}

func (m *Memory) AddVariant(ctx context.Context, v TestVariant) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[v.TestID]; !ok {
		return 0, ErrNotFound
	}
	v.ID = m.id()
	m.variants[v.ID] = v
	return v.ID, nil
}

func (m *Memory) Variants(ctx context.Context, testID int64) ([]TestVariant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TestVariant
	for _, id := range sortedKeys(m.variants) {
		if v := m.variants[id]; v.TestID == testID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) VisitorVariant(ctx context.Context, testID int64, visitorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.sessions[sessionKey{testID, visitorID}]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (m *Memory) CreateVisitorSession(ctx context.Context, s VisitorSession) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{s.TestID, s.VisitorID}
	if id, ok := m.sessions[key]; ok {
		return id, nil
	}
	m.sessions[key] = s.VariantID
	return s.VariantID, nil
}

func (m *Memory) RecordConversion(ctx context.Context, c Conversion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{c.TestID, c.VisitorID}
	if _, ok := m.converts[key]; ok {
		return false, nil
	}
	m.converts[key] = c
	return true, nil
}

// Conversions counts recorded conversions for a test.
func (m *Memory) Conversions(testID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.converts {
		if k.testID == testID {
			n++
		}
	}
	return n
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
