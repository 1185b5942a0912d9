package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Migration is one schema step. Apply must be safe to re-run: "duplicate
// column" and "already exists" failures are treated as success (see
// ExecIdempotent).
type Migration struct {
	Version     int
	Description string
	Apply       func(ctx context.Context, tx *sql.Tx) error
}

// MigrationManager applies an ordered list of migrations and tracks the
// schema version in a singleton schema_version row.
//
// All steps between the current version and the target run inside one
// transaction together with the version update, so a failure never leaves a
// partially migrated schema.
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrationManager creates a manager for db. Migrations are sorted by
// version; duplicate versions are rejected.
func NewMigrationManager(db *sql.DB, migrations []Migration) (*MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database connection is required")
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, fmt.Errorf("migrations: duplicate version %d", sorted[i].Version)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return nil, fmt.Errorf("migrations: failed to create schema_version table: %w", err)
	}

	return &MigrationManager{db: db, migrations: sorted}, nil
}

// Latest returns the highest known migration version (0 when there are none).
func (m *MigrationManager) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// CurrentVersion returns the recorded schema version, or 0 for a fresh database.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var v int
	err := m.db.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrations: failed to read schema version: %w", err)
	}
	return v, nil
}

// MigrateTo applies every migration in (current, target]. It is a no-op when
// the database is already at or above target. On failure the whole batch is
// rolled back and a *SchemaMigrationError is returned.
func (m *MigrationManager) MigrateTo(ctx context.Context, target int) (applied []int, err error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if current >= target {
		return nil, nil
	}

	fail := func(cause error) ([]int, error) {
		return nil, &SchemaMigrationError{From: current, To: target, Cause: cause}
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, mig := range m.migrations {
		if mig.Version <= current || mig.Version > target {
			continue
		}
		if err := mig.Apply(ctx, tx); err != nil {
			return fail(fmt.Errorf("v%d (%s): %w", mig.Version, mig.Description, err))
		}
		applied = append(applied, mig.Version)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_version (id, version, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, target, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fail(err)
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return applied, nil
}

// MigrateUp migrates to Latest().
func (m *MigrationManager) MigrateUp(ctx context.Context) ([]int, error) {
	return m.MigrateTo(ctx, m.Latest())
}

// ExecIdempotent runs each statement in order, ignoring "duplicate column"
// and "already exists" failures.
func ExecIdempotent(ctx context.Context, q Querier, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil && !IsAlreadyExists(err) {
			return err
		}
	}
	return nil
}
