package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memindex/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	want := config.Default()
	assert.Equal(t, &want, cfg)
	assert.Equal(t, 768, cfg.Storage.Dimension)
	assert.Equal(t, 500, cfg.Cache.QuerySize)
	assert.Equal(t, 15*time.Minute, cfg.Cache.QueryTTL)
	assert.Equal(t, 0.5, cfg.Scoring.Relevance)
	assert.Equal(t, uint32(3), cfg.Breaker.MaxFailures)
	assert.Equal(t, 24, cfg.Retention.Hourly)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "./data/memindex.db", cfg.Storage.Path)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /var/lib/memindex/index.db
  dimension: 384
search:
  min_similarity: 40
  retry_interval: 30s
scoring:
  relevance: 0.6
  recency: 0.2
cache:
  query_ttl: 1m
indexing:
  batch_size: 25
  batch_delay: 250ms
breaker:
  max_failures: 5
retention:
  monthly: 6
log:
  level: debug
  format: console
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/memindex/index.db", cfg.Storage.Path)
	assert.Equal(t, 384, cfg.Storage.Dimension)
	assert.Equal(t, config.BackendSQLite, cfg.Storage.VectorBackend, "untouched keys keep defaults")
	assert.Equal(t, 40.0, cfg.Search.MinSimilarity)
	assert.Equal(t, 30*time.Second, cfg.Search.RetryInterval)
	assert.Equal(t, 0.6, cfg.Scoring.Relevance)
	assert.Equal(t, 0.2, cfg.Scoring.Access)
	assert.Equal(t, time.Minute, cfg.Cache.QueryTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ConstitutionalTTL)
	assert.Equal(t, 25, cfg.Indexing.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Indexing.BatchDelay)
	assert.Equal(t, uint32(5), cfg.Breaker.MaxFailures)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Timeout)
	assert.Equal(t, 6, cfg.Retention.Monthly)
	assert.Equal(t, 7, cfg.Retention.Daily)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "storage:\n  dimension: 384\nsearch:\n  min_similarity: 40\n")
	t.Setenv("MEMINDEX_STORAGE_DIMENSION", "1536")
	t.Setenv("MEMINDEX_STORAGE_DISABLE_VECTORS", "true")
	t.Setenv("MEMINDEX_CACHE_QUERY_SIZE", "50")
	t.Setenv("MEMINDEX_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1536, cfg.Storage.Dimension)
	assert.True(t, cfg.Storage.DisableVectors)
	assert.Equal(t, 40.0, cfg.Search.MinSimilarity)
	assert.Equal(t, 50, cfg.Cache.QuerySize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "storage: [unterminated\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty path", func(c *config.Config) { c.Storage.Path = " " }},
		{"zero dimension", func(c *config.Config) { c.Storage.Dimension = 0 }},
		{"unknown backend", func(c *config.Config) { c.Storage.VectorBackend = "qdrant" }},
		{"postgres without dsn", func(c *config.Config) { c.Storage.VectorBackend = config.BackendPostgres }},
		{"similarity above 100", func(c *config.Config) { c.Search.MinSimilarity = 101 }},
		{"negative weight", func(c *config.Config) { c.Scoring.Recency = -0.1 }},
		{"negative cache size", func(c *config.Config) { c.Cache.QuerySize = -1 }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := config.Default()
	cfg.Storage.VectorBackend = config.BackendPostgres
	cfg.Storage.PostgresDSN = "postgres://localhost/memindex"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RejectsInvalidResult(t *testing.T) {
	t.Setenv("MEMINDEX_STORAGE_VECTOR_BACKEND", "postgres")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "postgres_dsn")
}
