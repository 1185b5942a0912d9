package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	filePrefix = "memindex-"
	fileExt    = ".db"
	stampFmt   = "20060102T150405"
)

// FileName returns the snapshot file name for label taken at t, for
// example "memindex-pre-v16-20261017T101500.db".
func FileName(label string, t time.Time) string {
	label = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, label)
	if label == "" {
		label = "manual"
	}
	return filePrefix + label + "-" + t.UTC().Format(stampFmt) + fileExt
}

// parseFileName recovers the label and timestamp from a FileName result.
func parseFileName(name string) (string, time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return "", time.Time{}, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	i := strings.LastIndex(body, "-")
	if i < 0 {
		return "", time.Time{}, false
	}
	t, err := time.Parse(stampFmt, body[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return body[:i], t, true
}

// Verify opens the snapshot read-only and runs PRAGMA integrity_check.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}

// Restore copies a verified snapshot over targetPath. The target database
// must not be open.
func Restore(ctx context.Context, snapshotPath, targetPath string) error {
	if err := Verify(ctx, snapshotPath); err != nil {
		return fmt.Errorf("backup: snapshot verification failed: %w", err)
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("backup: failed to create target file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("backup: failed to copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("backup: failed to sync target file: %w", err)
	}

	// Stale WAL files would be replayed over the restored copy.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(targetPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("backup: failed to remove %s: %w", suffix, err)
		}
	}

	if err := Verify(ctx, targetPath); err != nil {
		return fmt.Errorf("backup: restored database verification failed: %w", err)
	}
	return nil
}
