package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// VerifyIntegrity compares records with stored vectors. Orphaned vectors
// (no record) are removed when opts.AutoClean is set. Records marked success
// without a vector are reported only: healing them would hide data loss.
func (s *Store) VerifyIntegrity(ctx context.Context, opts storage.IntegrityOptions) (*storage.IntegrityReport, error) {
	report := &storage.IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `SELECT id, file_path, embedding_status FROM memory_index`)
	if err != nil {
		return nil, s.wrap("verify integrity", 0, "", err)
	}
	type row struct {
		id     int64
		path   string
		status sql.NullString
	}
	var records []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.path, &r.status); err != nil {
			rows.Close()
			return nil, s.wrap("verify integrity", 0, "", err)
		}
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.wrap("verify integrity", 0, "", err)
	}
	report.TotalMemories = len(records)

	if s.vectors.Available() {
		vecIDs, err := s.vectors.IDs(ctx, s.db)
		if err != nil {
			return nil, s.wrap("verify integrity", 0, "", err)
		}
		report.TotalVectors = len(vecIDs)

		known := make(map[int64]bool, len(records))
		for _, r := range records {
			known[r.id] = true
		}
		hasVector := make(map[int64]bool, len(vecIDs))
		for _, id := range vecIDs {
			hasVector[id] = true
			if !known[id] {
				report.OrphanedVectorIDs = append(report.OrphanedVectorIDs, id)
			}
		}
		for _, r := range records {
			if r.status.String == "success" && !hasVector[r.id] {
				report.MissingVectorIDs = append(report.MissingVectorIDs, r.id)
			}
		}
	}
	report.OrphanedVectors = len(report.OrphanedVectorIDs)
	report.MissingVectors = len(report.MissingVectorIDs)

	if opts.AutoClean && report.OrphanedVectors > 0 {
		s.log.Info("sqlite: auto-cleaning orphaned vectors", zap.Int("count", report.OrphanedVectors))
		for _, id := range report.OrphanedVectorIDs {
			if err := s.vectors.Delete(ctx, s.db, id); err != nil {
				s.log.Warn("sqlite: failed to clean orphaned vector", zap.Int64("id", id), zap.Error(err))
				continue
			}
			report.Cleaned++
		}
		report.OrphanedVectors -= report.Cleaned
	}

	if !opts.SkipFileCheck {
		for _, r := range records {
			if r.path == "" {
				continue
			}
			if _, err := os.Stat(r.path); os.IsNotExist(err) {
				report.OrphanedFiles = append(report.OrphanedFiles, storage.OrphanedFile{
					ID: r.id, FilePath: r.path, Reason: "file no longer exists on filesystem",
				})
			}
		}
	}

	report.IsConsistent = report.OrphanedVectors == 0 && report.MissingVectors == 0 && len(report.OrphanedFiles) == 0
	return report, nil
}

// FindCleanupCandidates lists records that are old, rarely accessed or of
// low confidence. Never-accessed records sort first.
func (s *Store) FindCleanupCandidates(ctx context.Context, opts storage.CleanupOptions) ([]storage.CleanupCandidate, error) {
	opts.Normalize()
	now := s.now()
	cutoff := now.AddDate(0, 0, -opts.MaxAgeDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, spec_folder, file_path, title, created_at, last_accessed, access_count,
		       COALESCE(confidence, 0.5)
		FROM memory_index
		WHERE created_at < ?
		   OR access_count <= ?
		   OR COALESCE(confidence, 0.5) <= ?
		ORDER BY COALESCE(last_accessed, 0) ASC, access_count ASC, confidence ASC, id ASC
		LIMIT ?`, formatTime(cutoff), opts.MaxAccessCount, opts.MaxConfidence, opts.Limit)
	if err != nil {
		return nil, s.wrap("find cleanup candidates", 0, "", err)
	}
	defer rows.Close()

	var out []storage.CleanupCandidate
	for rows.Next() {
		var (
			c            storage.CleanupCandidate
			title        sql.NullString
			created      string
			lastAccessed sql.NullInt64
			access       sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.SpecFolder, &c.FilePath, &title, &created, &lastAccessed, &access, &c.Confidence); err != nil {
			return nil, err
		}
		c.Title = title.String
		if c.Title == "" {
			c.Title = "Untitled"
		}
		c.CreatedAt = parseTime(created)
		c.LastAccessed = lastAccessed.Int64
		c.AccessCount = int(access.Int64)
		c.Age = FormatAge(c.CreatedAt, now)

		if c.CreatedAt.Before(cutoff) {
			c.Reasons = append(c.Reasons, "created "+c.Age)
		}
		if c.AccessCount <= opts.MaxAccessCount {
			plural := "s"
			if c.AccessCount == 1 {
				plural = ""
			}
			c.Reasons = append(c.Reasons, fmt.Sprintf("accessed %d time%s", c.AccessCount, plural))
		}
		if c.Confidence <= opts.MaxConfidence {
			c.Reasons = append(c.Reasons, fmt.Sprintf("low importance (%d%%)", int(math.Round(c.Confidence*100))))
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FormatAge renders the distance between t and now as a short phrase such
// as "3 days ago". The zero time renders as "never".
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	days := int(now.Sub(t).Hours() / 24)
	unit := func(n int, name string) string {
		if n == 1 {
			return "1 " + name + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, name)
	}
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "yesterday"
	case days < 7:
		return unit(days, "day")
	case days < 30:
		return unit(days/7, "week")
	case days < 365:
		return unit(days/30, "month")
	default:
		return unit(days/365, "year")
	}
}

// ExpireTemporary deletes temporary-tier records whose expiry has passed.
// Records written before expires_at existed expire by created_at.
func (s *Store) ExpireTemporary(ctx context.Context) (int, error) {
	now := s.now()
	days := types.TierTemporary.Config().AutoExpireDays
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memory_index
		WHERE importance_tier = 'temporary'
		  AND ((expires_at IS NOT NULL AND expires_at <= ?)
		    OR (expires_at IS NULL AND created_at < ?))`,
		formatTime(now), formatTime(now.Add(-time.Duration(days)*24*time.Hour)))
	if err != nil {
		return 0, s.wrap("expire temporary", 0, "", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := s.DeleteMany(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.log.Info("sqlite: expired temporary memories", zap.Int("count", res.Deleted))
	return res.Deleted, nil
}
