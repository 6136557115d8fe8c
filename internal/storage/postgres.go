package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosight/pagelab/internal/config"
)

// Postgres is the relational store behind the content API.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	db, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Postgres{db: db}, nil
}

// Migrate applies PostgresSchema.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, PostgresSchema)
	return err
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const pageColumns = `
	p.id, p.website_id, p.path, p.title, p.is_active, w.domain, w.directory
	FROM pages p JOIN websites w ON w.id = p.website_id`

func scanPage(row pgx.Row) (Page, error) {
	var pg Page
	err := row.Scan(&pg.ID, &pg.WebsiteID, &pg.Path, &pg.Title, &pg.Active, &pg.Domain, &pg.Directory)
	return pg, notFound(err)
}

func (p *Postgres) Page(ctx context.Context, id int64) (Page, error) {
	return scanPage(p.db.QueryRow(ctx, `SELECT`+pageColumns+` WHERE p.id = $1`, id))
}

// PageByPath finds a page by its website domain and path.
func (p *Postgres) PageByPath(ctx context.Context, domain, path string) (Page, error) {
	return scanPage(p.db.QueryRow(ctx,
		`SELECT`+pageColumns+` WHERE w.domain = $1 AND p.path = $2`, domain, path))
}

func (p *Postgres) WebsiteByDomain(ctx context.Context, domain string) (Website, error) {
	var w Website
	err := p.db.QueryRow(ctx, `
		SELECT id, name, domain, directory FROM websites WHERE domain = $1
	`, domain).Scan(&w.ID, &w.Name, &w.Domain, &w.Directory)
	return w, notFound(err)
}

// EnsureWebsite registers a website by domain and returns its id.
func (p *Postgres) EnsureWebsite(ctx context.Context, w Website) (int64, error) {
	var id int64
	err := p.db.QueryRow(ctx, `
		INSERT INTO websites (name, domain, directory)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, w.Name, w.Domain, w.Directory).Scan(&id)
	return id, err
}

// EnsurePage registers a page by website and path and returns its id.
func (p *Postgres) EnsurePage(ctx context.Context, pg Page) (int64, error) {
	var id int64
	err := p.db.QueryRow(ctx, `
		INSERT INTO pages (website_id, path, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (website_id, path) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, pg.WebsiteID, pg.Path, pg.Title).Scan(&id)
	return id, err
}

const versionColumns = `id, page_id, content_hash, content_json, content_html, version_type, is_active, created_at`

func scanVersion(row pgx.Row) (ContentVersion, error) {
	var (
		v    ContentVersion
		raw  []byte
		html *string
	)
	if err := row.Scan(&v.ID, &v.PageID, &v.ContentHash, &raw, &html, &v.Type, &v.Active, &v.CreatedAt); err != nil {
		return v, notFound(err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v.Content); err != nil {
			return v, fmt.Errorf("decode content version %d: %w", v.ID, err)
		}
	}
	if html != nil {
		v.HTML = *html
	}
	return v, nil
}

func (p *Postgres) ContentVersion(ctx context.Context, id int64) (ContentVersion, error) {
	return scanVersion(p.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM content_versions WHERE id = $1`, id))
}

// ActiveVersion returns the page's active version, or ErrNotFound.
func (p *Postgres) ActiveVersion(ctx context.Context, pageID int64) (ContentVersion, error) {
	return scanVersion(p.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM content_versions WHERE page_id = $1 AND is_active LIMIT 1`, pageID))
}

func (p *Postgres) VersionByHash(ctx context.Context, pageID int64, hash, versionType string) (ContentVersion, error) {
	return scanVersion(p.db.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM content_versions
		WHERE page_id = $1 AND content_hash = $2 AND version_type = $3
		ORDER BY id LIMIT 1
	`, pageID, hash, versionType))
}

func (p *Postgres) CreateVersion(ctx context.Context, v ContentVersion) (int64, error) {
	var raw []byte
	if v.Content != nil {
		var err error
		if raw, err = json.Marshal(v.Content); err != nil {
			return 0, err
		}
	}
	var html *string
	if v.HTML != "" {
		html = &v.HTML
	}

	var id int64
	err := p.db.QueryRow(ctx, `
		INSERT INTO content_versions (page_id, content_hash, content_json, content_html, version_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, v.PageID, v.ContentHash, raw, html, v.Type).Scan(&id)
	return id, err
}

// ActivateVersion makes versionID the page's only active version.
func (p *Postgres) ActivateVersion(ctx context.Context, pageID, versionID int64) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE content_versions SET is_active = FALSE WHERE page_id = $1`, pageID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE content_versions SET is_active = TRUE WHERE id = $1 AND page_id = $2
		`, versionID, pageID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

const testColumns = `id, page_id, name, test_type, COALESCE(goal_page_id, 0), is_active, start_date, end_date, created_at`

func scanTest(row pgx.Row) (SplitTest, error) {
	var t SplitTest
	err := row.Scan(&t.ID, &t.PageID, &t.Name, &t.Type, &t.GoalPageID, &t.Active, &t.StartDate, &t.EndDate, &t.CreatedAt)
	return t, notFound(err)
}

func (p *Postgres) CreateTest(ctx context.Context, t SplitTest) (int64, error) {
	var id int64
	err := p.db.QueryRow(ctx, `
		INSERT INTO split_tests (page_id, name, test_type, goal_page_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, t.PageID, t.Name, t.Type, nullID(t.GoalPageID), t.Active).Scan(&id)
	return id, err
}

func (p *Postgres) Test(ctx context.Context, id int64) (SplitTest, error) {
	return scanTest(p.db.QueryRow(ctx, `SELECT `+testColumns+` FROM split_tests WHERE id = $1`, id))
}

// ActiveTest returns the running test on a page. An empty testType matches
// any type.
func (p *Postgres) ActiveTest(ctx context.Context, pageID int64, testType string) (SplitTest, error) {
	return scanTest(p.db.QueryRow(ctx, `
		SELECT `+testColumns+` FROM split_tests
		WHERE page_id = $1 AND is_active AND ($2 = '' OR test_type = $2)
		ORDER BY id LIMIT 1
	`, pageID, testType))
}

// SetTestActive starts or stops a test, stamping start_date or end_date.
func (p *Postgres) SetTestActive(ctx context.Context, id int64, active bool) error {
	var q string
	if active {
		q = `UPDATE split_tests SET is_active = TRUE, start_date = NOW(), end_date = NULL, updated_at = NOW() WHERE id = $1`
	} else {
		q = `UPDATE split_tests SET is_active = FALSE, end_date = NOW(), updated_at = NOW() WHERE id = $1`
	}
	tag, err := p.db.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AddVariant(ctx context.Context, v TestVariant) (int64, error) {
	var id int64
	err := p.db.QueryRow(ctx, `
		INSERT INTO test_variants (test_id, name, content_version_id, weight)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, v.TestID, v.Name, v.ContentVersionID, v.Weight).Scan(&id)
	return id, err
}

func (p *Postgres) Variants(ctx context.Context, testID int64) ([]TestVariant, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, test_id, name, content_version_id, weight
		FROM test_variants WHERE test_id = $1 ORDER BY id
	`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []TestVariant
	for rows.Next() {
		var v TestVariant
		if err := rows.Scan(&v.ID, &v.TestID, &v.Name, &v.ContentVersionID, &v.Weight); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// VisitorVariant returns the variant a visitor was assigned in a test.
func (p *Postgres) VisitorVariant(ctx context.Context, testID int64, visitorID string) (int64, error) {
	var id int64
	err := p.db.QueryRow(ctx, `
		SELECT variant_id FROM visitor_sessions WHERE split_test_id = $1 AND visitor_id = $2
	`, testID, visitorID).Scan(&id)
	return id, notFound(err)
}

// CreateVisitorSession records an assignment. When the visitor already has
// one for the test the existing variant wins and is returned.
func (p *Postgres) CreateVisitorSession(ctx context.Context, s VisitorSession) (int64, error) {
	var id int64
	err := p.db.QueryRow(ctx, `
		INSERT INTO visitor_sessions (split_test_id, variant_id, visitor_id, user_agent, ip_address, referrer)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (split_test_id, visitor_id) DO NOTHING
		RETURNING variant_id
	`, s.TestID, s.VariantID, s.VisitorID, s.UserAgent, s.IPAddress, s.Referrer).Scan(&id)
	if !errors.Is(err, pgx.ErrNoRows) {
		return id, err
	}

	// Lost the race; the winner's row is only visible to a new statement
	return p.VisitorVariant(ctx, s.TestID, s.VisitorID)
}

// RecordConversion inserts a conversion and reports false when the visitor
// had already converted in the test.
func (p *Postgres) RecordConversion(ctx context.Context, c Conversion) (bool, error) {
	tag, err := p.db.Exec(ctx, `
		INSERT INTO conversions (split_test_id, variant_id, visitor_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (split_test_id, visitor_id) DO NOTHING
	`, c.TestID, c.VariantID, c.VisitorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Close() {
	p.db.Close()
}
