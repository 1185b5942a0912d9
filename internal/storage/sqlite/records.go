package sqlite

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// identityQuery finds the record for (spec_folder, path alias, anchor). The
// newest row wins when legacy duplicates exist.
const identityQuery = `
	SELECT id FROM memory_index
	WHERE spec_folder = ?
	  AND (canonical_file_path = ? OR file_path = ?)
	  AND (anchor_id = ? OR (anchor_id IS NULL AND ? IS NULL))
	ORDER BY id DESC LIMIT 1`

func (s *Store) lookupIdentity(ctx context.Context, q storage.Querier, folder, path, canonical string, anchor *string) (int64, bool, error) {
	a := nullableStringPtr(anchor)
	var id int64
	err := q.QueryRowContext(ctx, identityQuery, folder, canonical, path, a, a).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func validateIngest(rec *types.IngestRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: record is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(rec.SpecFolder) == "" || strings.TrimSpace(rec.FilePath) == "" {
		return fmt.Errorf("%w: spec_folder and file_path are required", storage.ErrInvalidInput)
	}
	if rec.ImportanceTier != "" && !rec.ImportanceTier.IsValid() {
		return fmt.Errorf("%w: unknown importance tier %q", storage.ErrInvalidInput, rec.ImportanceTier)
	}
	if rec.ImportanceWeight != nil && (*rec.ImportanceWeight < 0 || *rec.ImportanceWeight > 1) {
		return fmt.Errorf("%w: importance weight %v outside [0, 1]", storage.ErrInvalidInput, *rec.ImportanceWeight)
	}
	if rec.ContextType != "" && !rec.ContextType.IsValid() {
		return fmt.Errorf("%w: unknown context type %q", storage.ErrInvalidInput, rec.ContextType)
	}
	return nil
}

// capTriggers trims phrases and keeps at most MaxTriggerPhrases.
func capTriggers(list []string) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
		if len(out) == types.MaxTriggerPhrases {
			break
		}
	}
	return out
}

// IndexWithEmbedding upserts rec together with its embedding. The embedding
// must have the configured dimension; nothing is written otherwise.
func (s *Store) IndexWithEmbedding(ctx context.Context, rec *types.IngestRecord, embedding []float64) (int64, error) {
	if embedding == nil {
		return 0, fmt.Errorf("sqlite: %w: embedding is required", storage.ErrInvalidInput)
	}
	return s.Upsert(ctx, rec, embedding)
}

// IndexDeferred upserts rec without an embedding. The record is keyword
// searchable only until an embedding is supplied through Update.
func (s *Store) IndexDeferred(ctx context.Context, rec *types.IngestRecord) (int64, error) {
	return s.Upsert(ctx, rec, nil)
}

// Upsert inserts rec, or updates the record with the same identity triple.
// Metadata and vector are written in one transaction. When the vector side
// is unavailable the metadata is still written with status pending.
func (s *Store) Upsert(ctx context.Context, rec *types.IngestRecord, embedding []float64) (int64, error) {
	if err := validateIngest(rec); err != nil {
		return 0, err
	}
	if embedding != nil {
		if err := storage.CheckDimension(embedding, s.dim); err != nil {
			return 0, err
		}
	}

	canonical := storage.CanonicalPathKey(rec.FilePath)
	var (
		id int64
		ev storage.ChangeEvent
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := s.lookupIdentity(ctx, tx, rec.SpecFolder, rec.FilePath, canonical, rec.AnchorID)
		if err != nil {
			return err
		}
		if err := s.checkParent(ctx, tx, existing, rec.ParentID); err != nil {
			return err
		}
		if found {
			id = existing
			ev, err = s.updateTx(ctx, tx, id, updateFromIngest(rec, canonical, embedding), pendingReason(rec, embedding))
			return err
		}
		id, ev, err = s.insertTx(ctx, tx, rec, canonical, embedding)
		return err
	})
	if err != nil {
		return 0, s.wrap("upsert", id, rec.FilePath, err)
	}
	s.emit(ev)
	return id, nil
}

// pendingReason returns the failure reason to record when an ingest leaves
// the record without a fresh vector, or "" when the vector is supplied.
func pendingReason(rec *types.IngestRecord, embedding []float64) string {
	if embedding != nil {
		return ""
	}
	if rec.FailureReason != "" {
		return rec.FailureReason
	}
	return "deferred: no embedding supplied"
}

func updateFromIngest(rec *types.IngestRecord, canonical string, embedding []float64) types.RecordUpdate {
	upd := types.RecordUpdate{
		TriggerPhrases:   rec.TriggerPhrases,
		ImportanceWeight: rec.ImportanceWeight,
		CanonicalPath:    &canonical,
		SpecLevel:        rec.SpecLevel,
		QualityScore:     &rec.QualityScore,
		QualityFlags:     rec.QualityFlags,
		Embedding:        embedding,
	}
	if rec.Title != "" {
		upd.Title = &rec.Title
	}
	if rec.ImportanceTier != "" {
		t := types.NormalizeTier(string(rec.ImportanceTier))
		upd.ImportanceTier = &t
	}
	if rec.DocumentType != "" {
		d := types.NormalizeDocumentType(string(rec.DocumentType))
		upd.DocumentType = &d
	}
	if rec.MemoryType != "" {
		m := rec.MemoryType
		upd.MemoryType = &m
	}
	if rec.ContentText != "" {
		upd.ContentText = &rec.ContentText
	}
	if rec.ContentHash != "" {
		upd.ContentHash = &rec.ContentHash
	}
	return upd
}

// checkParent enforces the chunk depth invariant: a parent must exist and
// must not itself be a chunk, and a record that has chunks cannot become one.
func (s *Store) checkParent(ctx context.Context, q storage.Querier, selfID int64, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	if selfID != 0 && *parentID == selfID {
		return fmt.Errorf("%w: record %d cannot be its own parent", storage.ErrInvalidInput, selfID)
	}
	var grandparent sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT parent_id FROM memory_index WHERE id = ?`, *parentID).Scan(&grandparent)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: parent record %d does not exist", storage.ErrInvalidInput, *parentID)
	}
	if err != nil {
		return err
	}
	if grandparent.Valid {
		return fmt.Errorf("%w: parent record %d is itself a chunk", storage.ErrInvalidInput, *parentID)
	}
	if selfID != 0 {
		var children int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_index WHERE parent_id = ?`, selfID).Scan(&children); err != nil {
			return err
		}
		if children > 0 {
			return fmt.Errorf("%w: record %d has chunks and cannot become a chunk", storage.ErrInvalidInput, selfID)
		}
	}
	return nil
}

func (s *Store) insertTx(ctx context.Context, tx *sql.Tx, rec *types.IngestRecord, canonical string, embedding []float64) (int64, storage.ChangeEvent, error) {
	now := s.now()
	ts := formatTime(now)

	tier := types.NormalizeTier(string(rec.ImportanceTier))
	weight := tier.Config().Value
	if rec.ImportanceWeight != nil {
		weight = *rec.ImportanceWeight
	}

	withVector := embedding != nil && s.vectors.Available()
	status := types.EmbeddingPending
	var model, generatedAt, failure sql.NullString
	if withVector {
		status = types.EmbeddingSuccess
		model = nullableString(s.model)
		generatedAt = nullableString(ts)
	} else if embedding != nil {
		failure = nullableString("vector search unavailable")
	} else {
		failure = nullableString(pendingReason(rec, nil))
	}

	memType := types.MemoryType(strings.ToLower(string(rec.MemoryType)))
	if !memType.IsValid() {
		memType = types.DefaultMemoryType
	}
	var halfLife sql.NullFloat64
	if h, decays := memType.HalfLifeDays(); decays {
		halfLife = sql.NullFloat64{Float64: h, Valid: true}
	}
	ctxType := rec.ContextType
	if ctxType == "" {
		ctxType = types.ContextGeneral
	}
	var expires sql.NullString
	if days := tier.Config().AutoExpireDays; days > 0 {
		expires = nullableString(formatTime(now.Add(time.Duration(days) * 24 * time.Hour)))
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO memory_index (
			spec_folder, file_path, canonical_file_path, anchor_id, title, trigger_phrases,
			importance_weight, base_importance, importance_tier, created_at, updated_at,
			embedding_model, embedding_generated_at, embedding_status, failure_reason,
			context_type, content_text, content_hash, document_type, memory_type, half_life_days,
			spec_level, quality_score, quality_flags, parent_id, chunk_index, chunk_label, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SpecFolder, rec.FilePath, nullableString(canonical), nullableStringPtr(rec.AnchorID),
		nullableString(rec.Title), encodeList(capTriggers(rec.TriggerPhrases)),
		weight, weight, string(tier), ts, ts,
		model, generatedAt, string(status), failure,
		string(ctxType), nullableString(rec.ContentText), nullableString(rec.ContentHash),
		string(types.NormalizeDocumentType(string(rec.DocumentType))), string(memType), halfLife,
		nullableInt(rec.SpecLevel), rec.QualityScore, encodeList(rec.QualityFlags),
		nullableInt64(rec.ParentID), nullableInt(rec.ChunkIndex), nullableString(rec.ChunkLabel), expires,
	)
	if err != nil {
		return 0, storage.ChangeEvent{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.ChangeEvent{}, err
	}

	if withVector {
		if err := s.vectors.Put(ctx, tx, id, embedding); err != nil {
			return 0, storage.ChangeEvent{}, err
		}
	}

	created, err := s.get(ctx, tx, id)
	if err != nil {
		return 0, storage.ChangeEvent{}, err
	}
	if err := s.appendHistory(ctx, tx, id, types.HistoryAdd, nil, created); err != nil {
		return 0, storage.ChangeEvent{}, err
	}
	return id, storage.ChangeEvent{
		Kind:           storage.ChangeInsert,
		IDs:            []int64{id},
		SpecFolder:     rec.SpecFolder,
		Constitutional: tier == types.TierConstitutional,
	}, nil
}

// Update changes only the fields set in upd. A new embedding replaces the
// stored vector and marks the record success.
func (s *Store) Update(ctx context.Context, id int64, upd types.RecordUpdate) error {
	if upd.Embedding != nil {
		if err := storage.CheckDimension(upd.Embedding, s.dim); err != nil {
			return err
		}
	}
	var ev storage.ChangeEvent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		ev, err = s.updateTx(ctx, tx, id, upd, "")
		return err
	})
	if err != nil {
		return s.wrap("update", id, "", err)
	}
	s.emit(ev)
	return nil
}

// updateTx applies upd to id. A non-empty pendingReason marks the record
// pending when no embedding is supplied.
func (s *Store) updateTx(ctx context.Context, tx *sql.Tx, id int64, upd types.RecordUpdate, pendingReason string) (storage.ChangeEvent, error) {
	prev, err := s.get(ctx, tx, id)
	if err != nil {
		return storage.ChangeEvent{}, err
	}
	if prev == nil {
		return storage.ChangeEvent{}, fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}

	ts := formatTime(s.now())
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Title != nil {
		set("title", nullableString(*upd.Title))
	}
	if upd.TriggerPhrases != nil {
		set("trigger_phrases", encodeList(capTriggers(upd.TriggerPhrases)))
	}
	if upd.ImportanceWeight != nil {
		if *upd.ImportanceWeight < 0 || *upd.ImportanceWeight > 1 {
			return storage.ChangeEvent{}, fmt.Errorf("%w: importance weight %v outside [0, 1]", storage.ErrInvalidInput, *upd.ImportanceWeight)
		}
		set("importance_weight", *upd.ImportanceWeight)
	}
	newTier := prev.ImportanceTier
	if upd.ImportanceTier != nil {
		if !upd.ImportanceTier.IsValid() {
			return storage.ChangeEvent{}, fmt.Errorf("%w: unknown importance tier %q", storage.ErrInvalidInput, *upd.ImportanceTier)
		}
		newTier = types.NormalizeTier(string(*upd.ImportanceTier))
		set("importance_tier", string(newTier))
	}
	if upd.CanonicalPath != nil {
		set("canonical_file_path", nullableString(*upd.CanonicalPath))
	}
	if upd.DocumentType != nil {
		set("document_type", string(types.NormalizeDocumentType(string(*upd.DocumentType))))
	}
	if upd.SpecLevel != nil {
		set("spec_level", *upd.SpecLevel)
	}
	if upd.ContentText != nil {
		set("content_text", nullableString(*upd.ContentText))
	}
	if upd.ContentHash != nil {
		set("content_hash", nullableString(*upd.ContentHash))
	}
	if upd.MemoryType != nil {
		mt := types.MemoryType(strings.ToLower(string(*upd.MemoryType)))
		if !mt.IsValid() {
			mt = types.DefaultMemoryType
		}
		set("memory_type", string(mt))
		if h, decays := mt.HalfLifeDays(); decays {
			set("half_life_days", h)
		} else {
			set("half_life_days", nil)
		}
	}
	if upd.QualityScore != nil {
		set("quality_score", *upd.QualityScore)
	}
	if upd.QualityFlags != nil {
		set("quality_flags", encodeList(upd.QualityFlags))
	}
	if upd.IsPinned != nil {
		set("is_pinned", boolInt(*upd.IsPinned))
	}
	if upd.IsArchived != nil {
		set("is_archived", boolInt(*upd.IsArchived))
	}

	switch {
	case upd.Embedding != nil && s.vectors.Available():
		if err := storage.CheckDimension(upd.Embedding, s.dim); err != nil {
			return storage.ChangeEvent{}, err
		}
		set("embedding_model", nullableString(s.model))
		set("embedding_generated_at", ts)
		set("embedding_status", string(types.EmbeddingSuccess))
		set("failure_reason", nil)
	case upd.Embedding != nil:
		set("embedding_status", string(types.EmbeddingPending))
		set("failure_reason", "vector search unavailable")
	case pendingReason != "":
		set("embedding_status", string(types.EmbeddingPending))
		set("failure_reason", pendingReason)
	}
	set("updated_at", ts)

	args = append(args, id)
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_index SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return storage.ChangeEvent{}, err
	}

	if upd.Embedding != nil && s.vectors.Available() {
		if err := s.vectors.Delete(ctx, tx, id); err != nil {
			return storage.ChangeEvent{}, err
		}
		if err := s.vectors.Put(ctx, tx, id, upd.Embedding); err != nil {
			return storage.ChangeEvent{}, err
		}
	}

	next, err := s.get(ctx, tx, id)
	if err != nil {
		return storage.ChangeEvent{}, err
	}
	if err := s.appendHistory(ctx, tx, id, types.HistoryUpdate, prev, next); err != nil {
		return storage.ChangeEvent{}, err
	}
	return storage.ChangeEvent{
		Kind:           storage.ChangeUpdate,
		IDs:            []int64{id},
		SpecFolder:     prev.SpecFolder,
		Constitutional: prev.ImportanceTier == types.TierConstitutional || newTier == types.TierConstitutional,
	}, nil
}

// get reads one record through q; a missing record is (nil, nil).
func (s *Store) get(ctx context.Context, q storage.Querier, id int64) (*types.MemoryRecord, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM memory_index WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Get returns the record or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*types.MemoryRecord, error) {
	rec, err := s.get(ctx, s.db, id)
	if err != nil {
		return nil, s.wrap("get", id, "", err)
	}
	return rec, nil
}

// GetMany returns the existing records among ids, in the order given.
func (s *Store) GetMany(ctx context.Context, ids []int64) ([]*types.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memory_index WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, s.wrap("get many", 0, "", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, s.wrap("get many", 0, "", err)
	}
	byID := make(map[int64]*types.MemoryRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]*types.MemoryRecord, 0, len(recs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetByIdentity returns the record matching the identity triple, or nil.
func (s *Store) GetByIdentity(ctx context.Context, specFolder, filePath string, anchorID *string) (*types.MemoryRecord, error) {
	id, found, err := s.lookupIdentity(ctx, s.db, specFolder, filePath, storage.CanonicalPathKey(filePath), anchorID)
	if err != nil {
		return nil, s.wrap("get by identity", 0, filePath, err)
	}
	if !found {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// GetByFolder returns every record of a spec folder, newest first.
func (s *Store) GetByFolder(ctx context.Context, specFolder string) ([]*types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memory_index WHERE spec_folder = ? ORDER BY created_at DESC, id DESC`, specFolder)
	if err != nil {
		return nil, s.wrap("get by folder", 0, specFolder, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, s.wrap("get by folder", 0, specFolder, err)
	}
	return recs, nil
}

// PendingEmbeddings returns up to limit records still waiting for a vector
// (pending or retry), oldest first. Chunks are included.
func (s *Store) PendingEmbeddings(ctx context.Context, limit int) ([]*types.MemoryRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultPendingBatch
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_index
		WHERE embedding_status IN ('pending', 'retry')
		ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, s.wrap("pending embeddings", 0, "", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, s.wrap("pending embeddings", 0, "", err)
	}
	return recs, nil
}

// Chunks returns the chunk children of parentID ordered by chunk index.
func (s *Store) Chunks(ctx context.Context, parentID int64) ([]*types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memory_index WHERE parent_id = ? ORDER BY chunk_index ASC, id ASC`, parentID)
	if err != nil {
		return nil, s.wrap("chunks", parentID, "", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, s.wrap("chunks", parentID, "", err)
	}
	return recs, nil
}

// exec runs a single-row mutation and reports whether a row matched.
func (s *Store) exec(ctx context.Context, op string, id int64, kind storage.ChangeKind, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, s.wrap(op, id, "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap(op, id, "", err)
	}
	if n > 0 {
		s.emit(storage.ChangeEvent{Kind: kind, IDs: []int64{id}})
	}
	return n > 0, nil
}

// RecordAccess increments access_count and stamps last_accessed (epoch ms).
func (s *Store) RecordAccess(ctx context.Context, id int64) (bool, error) {
	return s.exec(ctx, "record access", id, storage.ChangeAccess,
		`UPDATE memory_index SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		s.now().UnixMilli(), id)
}

// UpdateConfidence sets confidence. Values outside [0, 1] are rejected.
func (s *Store) UpdateConfidence(ctx context.Context, id int64, value float64) (bool, error) {
	if value < 0 || value > 1 {
		return false, fmt.Errorf("sqlite: %w: confidence %v outside [0, 1]", storage.ErrInvalidInput, value)
	}
	return s.exec(ctx, "update confidence", id, storage.ChangeUpdate,
		`UPDATE memory_index SET confidence = ? WHERE id = ?`, value, id)
}

// UpdateEmbeddingStatus sets the embedding status. Moving to retry bumps
// retry_count and last_retry_at.
func (s *Store) UpdateEmbeddingStatus(ctx context.Context, id int64, status types.EmbeddingStatus) (bool, error) {
	if !status.IsValid() {
		return false, fmt.Errorf("sqlite: %w: unknown embedding status %q", storage.ErrInvalidInput, status)
	}
	if status == types.EmbeddingRetry {
		return s.exec(ctx, "update embedding status", id, storage.ChangeUpdate, `
			UPDATE memory_index
			SET embedding_status = ?, retry_count = retry_count + 1, last_retry_at = ?
			WHERE id = ?`, string(status), formatTime(s.now()), id)
	}
	return s.exec(ctx, "update embedding status", id, storage.ChangeUpdate,
		`UPDATE memory_index SET embedding_status = ? WHERE id = ?`, string(status), id)
}

// RecordReview persists FSRS state after a review.
func (s *Store) RecordReview(ctx context.Context, id int64, stability, difficulty float64, at time.Time) error {
	ok, err := s.exec(ctx, "record review", id, storage.ChangeUpdate, `
		UPDATE memory_index
		SET stability = ?, difficulty = ?, last_review = ?, review_count = review_count + 1
		WHERE id = ?`, stability, difficulty, formatTime(at), id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// SetRelatedMemories stores precomputed neighbour links as JSON.
func (s *Store) SetRelatedMemories(ctx context.Context, id int64, links []types.RelatedLink) error {
	b, err := json.Marshal(links)
	if err != nil {
		return err
	}
	ok, err := s.exec(ctx, "set related memories", id, storage.ChangeUpdate,
		`UPDATE memory_index SET related_memories = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// GetRelatedMemories loads the records linked from id, in link order.
func (s *Store) GetRelatedMemories(ctx context.Context, id int64) ([]*types.MemoryRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	ids := make([]int64, len(rec.RelatedMemories))
	for i, l := range rec.RelatedMemories {
		ids[i] = l.ID
	}
	return s.GetMany(ctx, ids)
}

// CountByStatus counts records per embedding status. Partial records are
// not part of the four reported buckets.
func (s *Store) CountByStatus(ctx context.Context) (types.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding_status, COUNT(*) FROM memory_index GROUP BY embedding_status`)
	if err != nil {
		return types.StatusCounts{}, s.wrap("count by status", 0, "", err)
	}
	defer rows.Close()

	var c types.StatusCounts
	for rows.Next() {
		var (
			status sql.NullString
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return types.StatusCounts{}, err
		}
		switch types.EmbeddingStatus(status.String) {
		case types.EmbeddingPending:
			c.Pending = n
		case types.EmbeddingSuccess:
			c.Success = n
		case types.EmbeddingFailed:
			c.Failed = n
		case types.EmbeddingRetry:
			c.Retry = n
		}
	}
	return c, rows.Err()
}

// Stats summarises the store contents.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	var st storage.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_index`).Scan(&st.Total); err != nil {
		return st, s.wrap("stats", 0, "", err)
	}
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		return st, err
	}
	st.StatusCounts = counts
	st.VectorsAvailable = s.vectors.Available()
	if st.VectorsAvailable {
		if st.Vectors, err = s.vectors.Count(ctx, s.db); err != nil {
			return st, s.wrap("stats", 0, "", err)
		}
	}
	return st, nil
}

// UsageStats lists accessed records ordered by the chosen usage column.
func (s *Store) UsageStats(ctx context.Context, opts storage.UsageOptions) ([]storage.UsageStat, error) {
	opts.Normalize()
	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}
	// SortBy is whitelisted by Normalize.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, spec_folder, file_path, access_count, last_accessed, confidence
		FROM memory_index
		WHERE access_count > 0
		ORDER BY `+string(opts.SortBy)+` `+dir+`, id ASC
		LIMIT ?`, opts.Limit)
	if err != nil {
		return nil, s.wrap("usage stats", 0, "", err)
	}
	defer rows.Close()

	var out []storage.UsageStat
	for rows.Next() {
		var (
			u            storage.UsageStat
			title        sql.NullString
			lastAccessed sql.NullInt64
			confidence   sql.NullFloat64
		)
		if err := rows.Scan(&u.ID, &title, &u.SpecFolder, &u.FilePath, &u.AccessCount, &lastAccessed, &confidence); err != nil {
			return nil, err
		}
		u.Title, u.LastAccessed, u.Confidence = title.String, lastAccessed.Int64, confidence.Float64
		out = append(out, u)
	}
	return out, rows.Err()
}

// DefaultPreviewLines is the preview length used when maxLines <= 0.
const DefaultPreviewLines = 50

// Preview returns the first maxLines lines of the record's source file,
// followed by a "... (N more lines)" marker when the file is longer.
func (s *Store) Preview(ctx context.Context, id int64, maxLines int) (string, error) {
	if maxLines <= 0 {
		maxLines = DefaultPreviewLines
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}

	f, err := os.Open(rec.FilePath)
	if err != nil {
		return "", s.wrap("preview", id, rec.FilePath, err)
	}
	defer f.Close()

	var (
		lines []string
		total int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if total < maxLines {
			lines = append(lines, sc.Text())
		}
		total++
	}
	if err := sc.Err(); err != nil {
		return "", s.wrap("preview", id, rec.FilePath, err)
	}

	out := strings.Join(lines, "\n")
	if total > maxLines {
		out += fmt.Sprintf("\n... (%d more lines)", total-maxLines)
	}
	return out, nil
}
