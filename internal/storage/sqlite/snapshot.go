package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/backup"
)

// Snapshot writes a consistent copy of the database into dir with VACUUM
// INTO, verifies it with PRAGMA integrity_check and returns its path.
// VACUUM INTO reads through the WAL, so the copy includes uncheckpointed
// writes.
func (s *Store) Snapshot(ctx context.Context, dir, label string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("sqlite: failed to create snapshot directory: %w", err)
	}
	dest := filepath.Join(dir, backup.FileName(label, s.now()))
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("sqlite: snapshot %s already exists", dest)
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return "", s.wrap("snapshot", 0, dest, err)
	}
	if err := backup.Verify(ctx, dest); err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	s.log.Info("sqlite: snapshot written", zap.String("path", dest), zap.String("label", label))
	return dest, nil
}
