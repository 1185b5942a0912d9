package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// StoredFileState returns the indexing state recorded for path, matched by
// canonical key or raw path. A canonical match wins over a raw one, then the
// newest row. Returns nil when the file was never indexed.
func (s *Store) StoredFileState(ctx context.Context, path string) (*storage.FileState, error) {
	canonical := storage.CanonicalPathKey(path)
	var (
		st     storage.FileState
		canon  sql.NullString
		mtime  sql.NullInt64
		status sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, canonical_file_path, file_mtime_ms, embedding_status
		FROM memory_index
		WHERE canonical_file_path = ? OR file_path = ?
		ORDER BY CASE WHEN canonical_file_path = ? THEN 0 ELSE 1 END, id DESC
		LIMIT 1`, canonical, path, canonical).Scan(&st.ID, &st.FilePath, &canon, &mtime, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("stored file state", 0, path, err)
	}
	st.CanonicalFilePath = canon.String
	if mtime.Valid {
		v := mtime.Int64
		st.FileMtimeMs = &v
	}
	st.EmbeddingStatus = types.EmbeddingStatus(status.String)
	if st.EmbeddingStatus == "" {
		st.EmbeddingStatus = types.EmbeddingPending
	}
	return &st, nil
}

const updateMtimeQuery = `UPDATE memory_index SET file_mtime_ms = ?
	WHERE canonical_file_path = ? OR file_path = ?`

// UpdateFileMtime records the disk mtime for every record of path. It
// reports false when no record matches.
func (s *Store) UpdateFileMtime(ctx context.Context, path string, mtimeMs int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, updateMtimeQuery, mtimeMs, storage.CanonicalPathKey(path), path)
	if err != nil {
		return false, s.wrap("update file mtime", 0, path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap("update file mtime", 0, path, err)
	}
	return n > 0, nil
}

// UpdateFileMtimes records mtimes for a batch of files in one transaction
// and returns how many paths matched at least one record.
func (s *Store) UpdateFileMtimes(ctx context.Context, files []storage.FileMtime) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}
	updated := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, updateMtimeQuery)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range files {
			res, err := stmt.ExecContext(ctx, f.MtimeMs, storage.CanonicalPathKey(f.Path), f.Path)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap("update file mtimes", 0, "", err)
	}
	return updated, nil
}

// IndexedPaths lists every distinct file path with at least one record,
// optionally restricted to one spec folder.
func (s *Store) IndexedPaths(ctx context.Context, specFolder string) ([]string, error) {
	q := `SELECT DISTINCT file_path FROM memory_index`
	var args []any
	if specFolder != "" {
		q += ` WHERE spec_folder = ?`
		args = append(args, specFolder)
	}
	q += ` ORDER BY file_path`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("indexed paths", 0, "", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
