// Package config loads memindex settings: built-in defaults, then an
// optional YAML file, then MEMINDEX_-prefixed environment variables.
//
// Environment names map to keys by splitting on the first underscore after
// the prefix:
//
//	MEMINDEX_STORAGE_PATH          -> storage.path
//	MEMINDEX_SEARCH_MIN_SIMILARITY -> search.min_similarity
//	MEMINDEX_LOG_LEVEL             -> log.level
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/scrypster/memindex/internal/backup"
	"github.com/scrypster/memindex/internal/engine"
	"github.com/scrypster/memindex/internal/indexing"
	"github.com/scrypster/memindex/internal/logging"
	"github.com/scrypster/memindex/internal/scoring"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEMINDEX_"

const maxConfigFileSize = 1 << 20

// Config holds all settings.
type Config struct {
	Storage   StorageConfig           `koanf:"storage"`
	Search    SearchConfig            `koanf:"search"`
	Scoring   scoring.Weights         `koanf:"scoring"`
	Cache     CacheConfig             `koanf:"cache"`
	Indexing  indexing.ThrottleConfig `koanf:"indexing"`
	Breaker   engine.BreakerConfig    `koanf:"breaker"`
	Retention backup.RetentionPolicy  `koanf:"retention"`
	Log       logging.Config          `koanf:"log"`
}

// StorageConfig locates the database and selects the vector backend.
type StorageConfig struct {
	// Path is the SQLite database file. Default: ./data/memindex.db
	Path string `koanf:"path"`

	// Dimension is the embedding length. Default: 768
	Dimension int `koanf:"dimension"`

	// EmbeddingModel is stamped on records whose vector is written.
	EmbeddingModel string `koanf:"embedding_model"`

	// VectorBackend is sqlite (built-in table) or postgres (pgvector).
	VectorBackend string `koanf:"vector_backend"`

	// PostgresDSN is required when VectorBackend is postgres.
	PostgresDSN string `koanf:"postgres_dsn"`

	// DisableVectors runs in deferred-indexing, keyword-only mode.
	DisableVectors bool `koanf:"disable_vectors"`

	// SnapshotDir receives pre-migration and manual snapshots.
	SnapshotDir string `koanf:"snapshot_dir"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultLimit  int     `koanf:"default_limit"`
	MinSimilarity float64 `koanf:"min_similarity"`

	// RetryInterval spaces background passes over pending embeddings.
	RetryInterval time.Duration `koanf:"retry_interval"`
	RetryBatch    int           `koanf:"retry_batch"`
}

// CacheConfig sizes the two caches.
type CacheConfig struct {
	ConstitutionalTTL time.Duration `koanf:"constitutional_ttl"`
	QuerySize         int           `koanf:"query_size"`
	QueryTTL          time.Duration `koanf:"query_ttl"`
}

// Vector backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Path:          "./data/memindex.db",
			Dimension:     768,
			VectorBackend: BackendSQLite,
			SnapshotDir:   "./data/snapshots",
		},
		Search: SearchConfig{
			DefaultLimit:  engine.DefaultSearchLimit,
			MinSimilarity: engine.DefaultMinSimilarity,
			RetryInterval: 5 * time.Minute,
			RetryBatch:    50,
		},
		Scoring: scoring.DefaultWeights(),
		Cache: CacheConfig{
			ConstitutionalTTL: 5 * time.Minute,
			QuerySize:         500,
			QueryTTL:          15 * time.Minute,
		},
		Indexing:  indexing.ThrottleConfig{BatchSize: indexing.DefaultBatchSize},
		Breaker:   engine.DefaultBreakerConfig(),
		Retention: backup.DefaultRetention(),
		Log:       logging.DefaultConfig(),
	}
}

// Load reads path (skipped when empty or missing) and the environment on
// top of Default, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps MEMINDEX_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config: %s is too large (%d bytes, max %d)", path, info.Size(), maxConfigFileSize)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return content, nil
}

// Validate rejects settings the store or engine would refuse later.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("storage.dimension must be positive, got %d", c.Storage.Dimension))
	}
	switch c.Storage.VectorBackend {
	case BackendSQLite:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.vector_backend must be sqlite or postgres, got %q", c.Storage.VectorBackend))
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 100 {
		errs = append(errs, fmt.Errorf("search.min_similarity must be in [0, 100], got %v", c.Search.MinSimilarity))
	}
	if w := c.Scoring; w.Relevance < 0 || w.Recency < 0 || w.Access < 0 {
		errs = append(errs, errors.New("scoring weights must not be negative"))
	}
	if c.Cache.QuerySize < 0 {
		errs = append(errs, fmt.Errorf("cache.query_size must not be negative, got %d", c.Cache.QuerySize))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
