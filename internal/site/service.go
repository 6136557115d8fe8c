package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/dom"
	"github.com/gosight/pagelab/internal/experiment"
	"github.com/gosight/pagelab/internal/storage"
)

// ErrNotContentVersion is returned when a design version is used as a
// content map.
var ErrNotContentVersion = errors.New("content version is not a content map")

// Repository is the persistence the content service needs.
type Repository interface {
	Page(ctx context.Context, id int64) (storage.Page, error)
	PageByPath(ctx context.Context, domain, path string) (storage.Page, error)
	WebsiteByDomain(ctx context.Context, domain string) (storage.Website, error)
	ContentVersion(ctx context.Context, id int64) (storage.ContentVersion, error)
	ActiveVersion(ctx context.Context, pageID int64) (storage.ContentVersion, error)
	VersionByHash(ctx context.Context, pageID int64, hash, versionType string) (storage.ContentVersion, error)
	CreateVersion(ctx context.Context, v storage.ContentVersion) (int64, error)
	ActivateVersion(ctx context.Context, pageID, versionID int64) error
}

// Cache holds content maps in front of the repository. Cache errors are
// logged and fall through to the repository.
type Cache interface {
	Get(ctx context.Context, key string) (content.Map, bool, error)
	Set(ctx context.Context, key string, m content.Map) error
	Delete(ctx context.Context, keys ...string) error
}

// Service manages page content and content versions.
type Service struct {
	repo    Repository
	files   *Files
	cache   Cache
	applier experiment.Applier
	log     zerolog.Logger
}

func NewService(repo Repository, files *Files, logger zerolog.Logger) *Service {
	return &Service{repo: repo, files: files, log: logger}
}

// WithCache puts c in front of content map reads.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

func activeKey(pageID int64) string {
	return "page:" + strconv.FormatInt(pageID, 10) + ":active"
}

func versionKey(versionID int64) string {
	return "version:" + strconv.FormatInt(versionID, 10)
}

func (s *Service) cached(ctx context.Context, key string) (content.Map, bool) {
	if s.cache == nil {
		return nil, false
	}
	m, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Content cache read failed")
		return nil, false
	}
	return m, ok
}

func (s *Service) store(ctx context.Context, key string, m content.Map) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, m); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Content cache write failed")
	}
}

// invalidate drops the cached active content of a page.
func (s *Service) invalidate(ctx context.Context, pageID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, activeKey(pageID)); err != nil {
		s.log.Warn().Err(err).Int64("page_id", pageID).Msg("Content cache invalidation failed")
	}
}

func (s *Service) Page(ctx context.Context, id int64) (storage.Page, error) {
	return s.repo.Page(ctx, id)
}

func (s *Service) PageByPath(ctx context.Context, domain, path string) (storage.Page, error) {
	return s.repo.PageByPath(ctx, domain, path)
}

// Asset resolves a non-page file of a website.
func (s *Service) Asset(ctx context.Context, domain, p string) (string, error) {
	w, err := s.repo.WebsiteByDomain(ctx, domain)
	if err != nil {
		return "", err
	}
	return s.files.Path(w.Directory, p)
}

// Source parses the page file. A page whose file is missing gets a
// placeholder document.
func (s *Service) Source(page storage.Page) (*dom.Document, error) {
	data, err := s.files.Read(page.Directory, page.Path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug().Int64("page_id", page.ID).Msg("Page file missing, using placeholder")
		data = placeholder(page.Title)
	} else if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page.ID, err)
	}
	return dom.Parse(bytes.NewReader(data))
}

// Document returns the page with its active content version applied.
func (s *Service) Document(ctx context.Context, page storage.Page) (*dom.Document, error) {
	doc, err := s.Source(page)
	if err != nil {
		return nil, err
	}

	m, ok, err := s.ActiveContent(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		if _, err := s.applier.Apply(doc, m); err != nil {
			s.log.Error().Err(err).Int64("page_id", page.ID).Msg("Failed to apply active version")
		}
	}
	return doc, nil
}

// ActiveContent returns the content map of the page's active version.
func (s *Service) ActiveContent(ctx context.Context, pageID int64) (content.Map, bool, error) {
	if m, ok := s.cached(ctx, activeKey(pageID)); ok {
		return m, true, nil
	}

	v, err := s.repo.ActiveVersion(ctx, pageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if v.Type != storage.VersionContent {
		return nil, false, nil
	}
	m := content.Map(v.Content)
	if m == nil {
		m = content.Map{}
	}
	s.store(ctx, activeKey(pageID), m)
	return m, true, nil
}

// PageContent is the editor's content map: the editable regions of the page
// file overlaid by the active version.
func (s *Service) PageContent(ctx context.Context, pageID int64) (content.Map, error) {
	page, err := s.repo.Page(ctx, pageID)
	if err != nil {
		return nil, err
	}
	doc, err := s.Source(page)
	if err != nil {
		return nil, err
	}

	m := EditableContent(doc)
	active, ok, err := s.ActiveContent(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if ok {
		m = content.Merge(m, active)
	}
	return m, nil
}

// VersionContent returns a content version's map.
// Versions never change once written, so they stay cached.
func (s *Service) VersionContent(ctx context.Context, versionID int64) (content.Map, error) {
	if m, ok := s.cached(ctx, versionKey(versionID)); ok {
		return m, nil
	}

	v, err := s.repo.ContentVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Type != storage.VersionContent {
		return nil, ErrNotContentVersion
	}
	m := content.Map(v.Content)
	if m == nil {
		m = content.Map{}
	}
	s.store(ctx, versionKey(versionID), m)
	return m, nil
}

// SaveContent stores a change set as the page's active version. An identical
// earlier version is reused.
func (s *Service) SaveContent(ctx context.Context, pageID int64, cs content.ChangeSet) (int64, error) {
	if _, err := s.repo.Page(ctx, pageID); err != nil {
		return 0, err
	}

	hash := content.Hash(cs)
	v, err := s.repo.VersionByHash(ctx, pageID, hash, storage.VersionContent)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		v = storage.ContentVersion{
			PageID:      pageID,
			ContentHash: hash,
			Content:     map[string]string(cs),
			Type:        storage.VersionContent,
		}
		if v.ID, err = s.repo.CreateVersion(ctx, v); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	}

	if err := s.repo.ActivateVersion(ctx, pageID, v.ID); err != nil {
		return 0, err
	}
	s.invalidate(ctx, pageID)
	s.log.Info().Int64("page_id", pageID).Int64("version_id", v.ID).Int("selectors", len(cs)).Msg("Content version activated")
	return v.ID, nil
}

// ActivateVersion makes a version the active one for its page.
func (s *Service) ActivateVersion(ctx context.Context, versionID int64) error {
	v, err := s.repo.ContentVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if err := s.repo.ActivateVersion(ctx, v.PageID, v.ID); err != nil {
		return err
	}
	s.invalidate(ctx, v.PageID)
	return nil
}

func placeholder(title string) []byte {
	t := html.EscapeString(title)
	return []byte(fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<title>%s</title>
</head>
<body>
<h1 id="title">Welcome to %s</h1>
<div id="content">This is a placeholder content for %s.</div>
</body>
</html>
`, t, t, t))
}
