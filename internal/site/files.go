package site

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosight/pagelab/internal/dom"
	"github.com/gosight/pagelab/internal/storage"
)

// ErrOutsideSite is returned for a path that escapes the website directory.
var ErrOutsideSite = errors.New("path escapes website directory")

// Files serves website files from a root directory holding one directory per
// website.
type Files struct {
	root string
}

func NewFiles(root string) *Files {
	return &Files{root: root}
}

// Path resolves a request path inside a website directory.
func (f *Files) Path(directory, p string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if !filepath.IsLocal(directory) || (rel != "" && !filepath.IsLocal(rel)) {
		return "", ErrOutsideSite
	}
	return filepath.Join(f.root, directory, filepath.FromSlash(rel)), nil
}

// Read returns the file at p inside a website directory.
func (f *Files) Read(directory, p string) ([]byte, error) {
	full, err := f.Path(directory, p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Registrar records websites and pages found on disk.
type Registrar interface {
	EnsureWebsite(ctx context.Context, w storage.Website) (int64, error)
	EnsurePage(ctx context.Context, p storage.Page) (int64, error)
}

// Discover registers every top-level directory as a website named after its
// domain and every .html file below it as a page. It returns the number of
// pages registered.
func (f *Files) Discover(ctx context.Context, reg Registrar) (int, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return 0, err
	}

	pages := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		domain := e.Name()
		websiteID, err := reg.EnsureWebsite(ctx, storage.Website{Name: domain, Domain: domain, Directory: domain})
		if err != nil {
			return pages, fmt.Errorf("register website %s: %w", domain, err)
		}

		siteRoot := filepath.Join(f.root, domain)
		err = filepath.WalkDir(siteRoot, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".html") {
				return err
			}
			rel, err := filepath.Rel(siteRoot, p)
			if err != nil {
				return err
			}
			pagePath := "/" + filepath.ToSlash(rel)
			title := pageTitle(p)
			if _, err := reg.EnsurePage(ctx, storage.Page{WebsiteID: websiteID, Path: pagePath, Title: title}); err != nil {
				return fmt.Errorf("register page %s%s: %w", domain, pagePath, err)
			}
			pages++
			return nil
		})
		if err != nil {
			return pages, err
		}
		log.Debug().Str("domain", domain).Msg("Website discovered")
	}
	return pages, nil
}

// pageTitle is the file's <title>, or its capitalised base name.
func pageTitle(file string) string {
	if f, err := os.Open(file); err == nil {
		doc, err := dom.Parse(f)
		f.Close()
		if err == nil {
			if n := doc.First("title"); n != nil {
				if t := strings.TrimSpace(doc.Text(n)); t != "" {
					return t
				}
			}
		}
	}

	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	if len(name) > 0 {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return name
}
