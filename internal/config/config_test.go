package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "postgres:\n  dsn: postgres://localhost/pagelab\n"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/pagelab", cfg.Postgres.DSN)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 1000, cfg.Batch.Size)
	assert.Equal(t, 5*time.Second, cfg.Batch.FlushInterval)
	assert.Equal(t, "pagelab.page_views", cfg.Kafka.Topics[TopicPageViews])
	assert.Equal(t, "visitor_id", cfg.Session.CookieName)
	assert.Equal(t, 365*24*time.Hour, cfg.Session.CookieTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("PAGELAB_OPERATOR_TOKEN", "s3cret")
	cfg, err := Load(writeConfig(t, `
editor:
  operator_token: ${PAGELAB_OPERATOR_TOKEN}
batch:
  size: 10
  flush_interval: 250ms
kafka:
  topics:
    conversions: custom
`))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Editor.OperatorToken)
	assert.Equal(t, 10, cfg.Batch.Size)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.FlushInterval)
	assert.Equal(t, "custom", cfg.Kafka.Topics[TopicConversions])
	assert.Equal(t, "pagelab.page_views", cfg.Kafka.Topics[TopicPageViews])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "config/contentapi.yaml", Path("config/contentapi.yaml"))
	t.Setenv("CONFIG_PATH", "/etc/pagelab.yaml")
	assert.Equal(t, "/etc/pagelab.yaml", Path("config/contentapi.yaml"))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, "/static/js/cms-editor.js", cfg.Sites.EditorScript)
	assert.False(t, cfg.Sites.ServerSideExperiments)
}

func TestLoad_DropsUnsetBrokers(t *testing.T) {
	t.Setenv("PAGELAB_KAFKA_BROKER", "")
	cfg, err := Load(writeConfig(t, "kafka:\n  brokers:\n    - ${PAGELAB_KAFKA_BROKER}\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Kafka.Brokers)
}
