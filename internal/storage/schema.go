package storage

// PostgresSchema is the relational schema for sites, content versions and
// split tests. Migrate applies it.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS websites (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    domain     TEXT NOT NULL UNIQUE,
    directory  TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pages (
    id         BIGSERIAL PRIMARY KEY,
    website_id BIGINT NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
    path       TEXT NOT NULL,
    title      TEXT NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (website_id, path)
);

CREATE TABLE IF NOT EXISTS content_versions (
    id           BIGSERIAL PRIMARY KEY,
    page_id      BIGINT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    content_hash TEXT NOT NULL,
    content_json JSONB,
    content_html TEXT,
    version_type TEXT NOT NULL DEFAULT 'content',
    is_active    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_content_versions_page_hash
    ON content_versions(page_id, content_hash, version_type);

CREATE TABLE IF NOT EXISTS split_tests (
    id           BIGSERIAL PRIMARY KEY,
    page_id      BIGINT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    name         TEXT NOT NULL,
    test_type    TEXT NOT NULL,
    goal_page_id BIGINT REFERENCES pages(id),
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    start_date   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    end_date     TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_split_tests_page_active
    ON split_tests(page_id, test_type, is_active);

CREATE TABLE IF NOT EXISTS test_variants (
    id                 BIGSERIAL PRIMARY KEY,
    test_id            BIGINT NOT NULL REFERENCES split_tests(id) ON DELETE CASCADE,
    name               TEXT NOT NULL,
    content_version_id BIGINT NOT NULL REFERENCES content_versions(id),
    weight             INTEGER NOT NULL DEFAULT 1,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS visitor_sessions (
    id            BIGSERIAL PRIMARY KEY,
    split_test_id BIGINT NOT NULL REFERENCES split_tests(id) ON DELETE CASCADE,
    variant_id    BIGINT NOT NULL REFERENCES test_variants(id) ON DELETE CASCADE,
    visitor_id    TEXT NOT NULL,
    user_agent    TEXT,
    ip_address    TEXT,
    referrer      TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (split_test_id, visitor_id)
);

CREATE TABLE IF NOT EXISTS conversions (
    id            BIGSERIAL PRIMARY KEY,
    split_test_id BIGINT NOT NULL REFERENCES split_tests(id) ON DELETE CASCADE,
    variant_id    BIGINT NOT NULL REFERENCES test_variants(id) ON DELETE CASCADE,
    visitor_id    TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (split_test_id, visitor_id)
);
`

// ClickHouseSchema holds the event tables written by the event processor.
const ClickHouseSchema = `
CREATE TABLE IF NOT EXISTS page_views (
    event_id    UUID,
    page_id     String,
    visitor_id  String,
    timestamp   DateTime64(3),
    referrer    String,
    browser     LowCardinality(String),
    os          LowCardinality(String),
    device_type LowCardinality(String),
    country     LowCardinality(String),
    city        String,
    ip_address  String
) ENGINE = MergeTree
ORDER BY (page_id, timestamp);

CREATE TABLE IF NOT EXISTS conversions (
    event_id    UUID,
    test_id     String,
    variant_id  String,
    visitor_id  String,
    timestamp   DateTime64(3),
    browser     LowCardinality(String),
    device_type LowCardinality(String),
    country     LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (test_id, variant_id, timestamp);
`
