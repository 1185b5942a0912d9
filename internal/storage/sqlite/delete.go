package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// Delete removes the record together with its chunks, their vectors, their
// history and any causal edges touching them.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	var (
		deleted bool
		ev      storage.ChangeEvent
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, ev, err = s.deleteTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return false, s.wrap("delete", id, "", err)
	}
	if deleted {
		s.emit(ev)
	}
	return deleted, nil
}

// DeleteByIdentity deletes the record matching the identity triple.
func (s *Store) DeleteByIdentity(ctx context.Context, specFolder, filePath string, anchorID *string) (bool, error) {
	var (
		deleted bool
		ev      storage.ChangeEvent
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		id, found, err := s.lookupIdentity(ctx, tx, specFolder, filePath, storage.CanonicalPathKey(filePath), anchorID)
		if err != nil || !found {
			return err
		}
		deleted, ev, err = s.deleteTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return false, s.wrap("delete by identity", 0, filePath, err)
	}
	if deleted {
		s.emit(ev)
	}
	return deleted, nil
}

// DeleteMany deletes every id in one transaction. A missing id or a failed
// delete rolls back the whole batch and returns a *storage.BatchDeleteError.
func (s *Store) DeleteMany(ctx context.Context, ids []int64) (storage.DeleteManyResult, error) {
	if len(ids) == 0 {
		return storage.DeleteManyResult{}, nil
	}

	var (
		res    storage.DeleteManyResult
		events []storage.ChangeEvent
		cause  error
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Chunks removed with their parent earlier in the batch count as deleted.
		gone := make(map[int64]bool, len(ids))
		for _, id := range ids {
			if gone[id] {
				res.Deleted++
				continue
			}
			ok, ev, err := s.deleteTx(ctx, tx, id)
			for _, rid := range ev.IDs {
				gone[rid] = true
			}
			switch {
			case err != nil:
				res.FailedIDs = append(res.FailedIDs, id)
				if cause == nil {
					cause = err
				}
			case !ok:
				res.FailedIDs = append(res.FailedIDs, id)
			default:
				res.Deleted++
				events = append(events, ev)
			}
		}
		if len(res.FailedIDs) > 0 {
			if cause == nil {
				cause = storage.ErrNotFound
			}
			return &storage.BatchDeleteError{FailedIDs: res.FailedIDs, Cause: cause}
		}
		return nil
	})
	if err != nil {
		res.Failed = len(res.FailedIDs)
		res.Deleted = 0
		var batchErr *storage.BatchDeleteError
		if errors.As(err, &batchErr) {
			s.log.Warn("sqlite: batch delete rolled back",
				zap.Int("requested", len(ids)), zap.Int64s("failed_ids", res.FailedIDs))
			return res, err
		}
		return res, s.wrap("delete many", 0, "", err)
	}

	merged := storage.ChangeEvent{Kind: storage.ChangeDelete}
	for _, ev := range events {
		merged.IDs = append(merged.IDs, ev.IDs...)
		merged.Constitutional = merged.Constitutional || ev.Constitutional
	}
	s.emit(merged)
	return res, nil
}

// deleteTx removes id and its chunk children. It reports false when id
// does not exist. Vector deletes that fail are logged; the metadata delete
// still goes ahead and VerifyIntegrity reports the orphan.
func (s *Store) deleteTx(ctx context.Context, tx *sql.Tx, id int64) (bool, storage.ChangeEvent, error) {
	prev, err := s.get(ctx, tx, id)
	if err != nil {
		return false, storage.ChangeEvent{}, err
	}
	if prev == nil {
		return false, storage.ChangeEvent{}, nil
	}

	ids := []int64{id}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM memory_index WHERE parent_id = ?`, id)
	if err != nil {
		return false, storage.ChangeEvent{}, err
	}
	for rows.Next() {
		var child int64
		if err := rows.Scan(&child); err != nil {
			rows.Close()
			return false, storage.ChangeEvent{}, err
		}
		ids = append(ids, child)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, storage.ChangeEvent{}, err
	}

	for _, rid := range ids {
		if err := s.vectors.Delete(ctx, tx, rid); err != nil {
			s.log.Warn("sqlite: vector delete failed", zap.Int64("id", rid), zap.Error(err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_history WHERE memory_id = ?`, rid); err != nil {
			return false, storage.ChangeEvent{}, fmt.Errorf("delete history: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM causal_edges WHERE source_id = ? OR target_id = ?`, rid, rid); err != nil {
			return false, storage.ChangeEvent{}, fmt.Errorf("delete causal edges: %w", err)
		}
	}

	// Children first so the result does not depend on foreign key enforcement.
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_index WHERE parent_id = ?`, id); err != nil {
		return false, storage.ChangeEvent{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_index WHERE id = ?`, id); err != nil {
		return false, storage.ChangeEvent{}, err
	}

	return true, storage.ChangeEvent{
		Kind:           storage.ChangeDelete,
		IDs:            ids,
		SpecFolder:     prev.SpecFolder,
		Constitutional: prev.ImportanceTier == types.TierConstitutional,
	}, nil
}
