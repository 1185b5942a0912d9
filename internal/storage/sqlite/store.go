// Package sqlite implements the memory index on an embedded SQLite database
// (modernc.org/sqlite, no cgo): record metadata, the built-in vector table,
// search primitives, incremental-indexing state and maintenance scans.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/memindex/internal/storage"
)

// Options configures Open.
type Options struct {
	// Path is the database file, a file: URI, or ":memory:".
	Path string

	// Dimension is the embedding length. It is recorded on first open and
	// every later open must match it.
	Dimension int

	// EmbeddingModel is stamped on records whose vector is written.
	EmbeddingModel string

	// Vectors overrides the built-in vec_memories table.
	Vectors storage.VectorIndex

	// DisableVectors runs the built-in vector table in deferred-indexing mode.
	DisableVectors bool

	// SnapshotDir, when set, receives a VACUUM INTO copy of an existing
	// database before any pending migration runs.
	SnapshotDir string

	Logger     *zap.Logger
	Classifier storage.TransientClassifier

	// Now overrides the clock.
	Now func() time.Time
}

// Store is the SQLite-backed record store. It is safe for concurrent use
// within one process; writes are serialised by the single connection.
type Store struct {
	db         *sql.DB
	path       string
	dim        int
	model      string
	vectors    storage.VectorIndex
	log        *zap.Logger
	classifier storage.TransientClassifier
	now        func() time.Time

	mu        sync.RWMutex
	listeners []func(storage.ChangeEvent)
}

var _ storage.RecordStore = (*Store)(nil)

// Open opens (creating if needed) the database, migrates it to
// SchemaVersion and validates the embedding dimension.
//
// If the initial open fails because of stale WAL files left by a crashed
// process, and no other process holds them, they are removed and the open
// is retried once.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("sqlite: %w: dimension must be positive", storage.ErrInvalidInput)
	}
	if opts.Path == "" {
		opts.Path = ":memory:"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Classifier == nil {
		opts.Classifier = storage.DefaultClassifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := openDB(opts.Path)
	if err != nil {
		dbPath := dbPathFromDSN(opts.Path)
		if !isRecoverableWALError(err) || dbPath == "" || !isWALStale(dbPath) {
			return nil, err
		}
		removeStaleWAL(dbPath, opts.Logger)
		var retryErr error
		if db, retryErr = openDB(opts.Path); retryErr != nil {
			return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
		}
		opts.Logger.Info("sqlite: recovered from stale WAL files", zap.String("path", dbPath))
	}

	s := &Store{
		db:         db,
		path:       dbPathFromDSN(opts.Path),
		dim:        opts.Dimension,
		model:      opts.EmbeddingModel,
		vectors:    opts.Vectors,
		log:        opts.Logger,
		classifier: opts.Classifier,
		now:        opts.Now,
	}
	if s.vectors == nil {
		s.vectors = NewVectorTable(opts.Dimension, !opts.DisableVectors)
	}

	if err := s.initSchema(ctx, opts.SnapshotDir); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureDimension(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if !s.vectors.Available() {
		s.log.Warn("sqlite: vector search unavailable, running in deferred-indexing mode")
	}
	return s, nil
}

// openDB opens a SQLite database and configures WAL mode.
func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// One connection serialises writes and keeps a ":memory:" database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return db, nil
}

func (s *Store) initSchema(ctx context.Context, snapshotDir string) error {
	mgr, err := storage.NewMigrationManager(s.db, migrations)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	current, err := mgr.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}

	if snapshotDir != "" && current > 0 && current < SchemaVersion && s.path != "" {
		dest, err := s.Snapshot(ctx, snapshotDir, fmt.Sprintf("pre-v%d", SchemaVersion))
		if err != nil {
			return fmt.Errorf("sqlite: pre-migration snapshot: %w", err)
		}
		s.log.Info("sqlite: pre-migration snapshot written", zap.String("path", dest))
	}

	if err := storage.ExecIdempotent(ctx, s.db, baseSchema...); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	applied, err := mgr.MigrateTo(ctx, SchemaVersion)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		s.log.Info("sqlite: schema migrated",
			zap.Int("from", current), zap.Int("to", SchemaVersion), zap.Ints("applied", applied))
	}
	return nil
}

// ensureDimension records the embedding dimension on first open and rejects
// a different dimension afterwards.
func (s *Store) ensureDimension(ctx context.Context) error {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM vec_metadata WHERE key = 'embedding_dim'`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO vec_metadata (key, value) VALUES ('embedding_dim', ?)`, strconv.Itoa(s.dim))
		if err != nil {
			return fmt.Errorf("sqlite: failed to record embedding dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite: failed to read embedding dimension: %w", err)
	}
	n, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("sqlite: corrupt embedding dimension %q: %w", stored, err)
	}
	if n != s.dim {
		return fmt.Errorf("sqlite: database was created with a different embedding model: %w",
			&storage.DimensionMismatchError{Expected: n, Actual: s.dim})
	}
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dimension returns the configured embedding length.
func (s *Store) Dimension() int { return s.dim }

// Vectors returns the vector index used by the store.
func (s *Store) Vectors() storage.VectorIndex { return s.vectors }

// VectorSearchAvailable reports whether vector search can be served.
func (s *Store) VectorSearchAvailable() bool { return s.vectors.Available() }

// SchemaVersion returns the recorded schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	mgr, err := storage.NewMigrationManager(s.db, migrations)
	if err != nil {
		return 0, err
	}
	return mgr.CurrentVersion(ctx)
}

// ModTime returns the newest modification time of the database file and its
// WAL. In-memory databases report the zero time.
func (s *Store) ModTime() (time.Time, error) {
	if s.path == "" {
		return time.Time{}, nil
	}
	var newest time.Time
	for _, p := range []string{s.path, s.path + "-wal"} {
		fi, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return time.Time{}, err
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest, nil
}

// OnChange registers fn to be called after every committed mutation.
func (s *Store) OnChange(fn func(storage.ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) emit(ev storage.ChangeEvent) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// wrap turns a driver failure into a *storage.StoreError and logs transient
// ones so that retry layers can be tuned. Validation and not-found errors
// are returned unchanged.
func (s *Store) wrap(op string, id int64, path string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *storage.StoreError
	if errors.Is(err, storage.ErrInvalidInput) || errors.Is(err, storage.ErrNotFound) || errors.As(err, &storeErr) {
		return err
	}
	if s.classifier.IsTransient(err) {
		s.log.Warn("sqlite: transient failure",
			zap.String("op", op), zap.Int64("id", id), zap.String("path", path), zap.Error(err))
	}
	return &storage.StoreError{Op: "sqlite: " + op, ID: id, Path: path, Err: err}
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return tx.Commit()
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -wal contents so that the next process
// does not find stale WAL state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn("sqlite: WAL checkpoint on close failed", zap.Error(err))
	}
	return s.db.Close()
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Returns empty string for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || u.Query().Get("mode") == "memory" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError reports errors caused by stale WAL files left
// behind after a crash.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for dbPath and no other
// process holds them open. Without lsof it conservatively returns false.
func isWALStale(dbPath string) bool {
	shmPath, walPath := dbPath+"-shm", dbPath+"-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}
	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	output, err := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath).Output()
	if err != nil {
		// lsof exits 1 when nothing holds the files.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string, log *zap.Logger) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("sqlite: failed to remove stale WAL file", zap.String("path", path), zap.Error(err))
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
