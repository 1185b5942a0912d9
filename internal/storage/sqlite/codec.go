package sqlite

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/scrypster/memindex/pkg/types"
)

// timeLayout is the on-disk timestamp format: UTC ISO-8601 with milliseconds,
// which sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts the on-disk layout, RFC 3339 and SQLite's datetime().
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeList stores a string list as a JSON array; nil and empty lists are NULL.
func encodeList(list []string) sql.NullString {
	if len(list) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// decodeList reads a JSON array, falling back to a comma-separated list for
// rows written by older tools.
func decodeList(ns sql.NullString) []string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(ns.String), &list); err == nil {
		return list
	}
	var out []string
	for _, p := range strings.Split(ns.String, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decodeLinks(ns sql.NullString) []types.RelatedLink {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var links []types.RelatedLink
	if err := json.Unmarshal([]byte(ns.String), &links); err != nil {
		return nil
	}
	return links
}

// recordColumns is the column list read by scanRecord, in order.
const recordColumns = `id, spec_folder, file_path, canonical_file_path, anchor_id, title,
	trigger_phrases, content_text, content_hash, document_type, memory_type, spec_level,
	quality_score, quality_flags, importance_tier, importance_weight, base_importance,
	COALESCE(half_life_days, decay_half_life_days), stability, difficulty, last_review, review_count,
	embedding_status, embedding_model, embedding_generated_at, retry_count, last_retry_at,
	failure_reason, access_count, last_accessed, confidence, is_pinned, is_archived,
	expires_at, session_id, context_type, channel, parent_id, chunk_index, chunk_label,
	related_memories, created_at, updated_at, file_mtime_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row selected with recordColumns.
func scanRecord(sc rowScanner) (*types.MemoryRecord, error) {
	var (
		rec                                                       types.MemoryRecord
		canonical, anchor, title, triggers, contentText, hash     sql.NullString
		docType, memType, flags, tier, lastReview, status, model  sql.NullString
		genAt, lastRetry, failure, expires, session, ctxType, ch  sql.NullString
		chunkLabel, related, createdAt, updatedAt                 sql.NullString
		specLevel, reviewCount, retryCount, accessCount, lastAcc  sql.NullInt64
		pinned, archived, parentID, chunkIndex, mtime             sql.NullInt64
		quality, weight, baseImp, halfLife, stability, difficulty sql.NullFloat64
		confidence                                                sql.NullFloat64
	)
	err := sc.Scan(&rec.ID, &rec.SpecFolder, &rec.FilePath, &canonical, &anchor, &title,
		&triggers, &contentText, &hash, &docType, &memType, &specLevel,
		&quality, &flags, &tier, &weight, &baseImp,
		&halfLife, &stability, &difficulty, &lastReview, &reviewCount,
		&status, &model, &genAt, &retryCount, &lastRetry,
		&failure, &accessCount, &lastAcc, &confidence, &pinned, &archived,
		&expires, &session, &ctxType, &ch, &parentID, &chunkIndex, &chunkLabel,
		&related, &createdAt, &updatedAt, &mtime)
	if err != nil {
		return nil, err
	}

	rec.CanonicalFilePath = canonical.String
	if anchor.Valid {
		a := anchor.String
		rec.AnchorID = &a
	}
	rec.Title = title.String
	rec.TriggerPhrases = decodeList(triggers)
	rec.ContentText = contentText.String
	rec.ContentHash = hash.String
	rec.DocumentType = types.NormalizeDocumentType(docType.String)
	rec.MemoryType = types.MemoryType(memType.String)
	if rec.MemoryType == "" {
		rec.MemoryType = types.DefaultMemoryType
	}
	if specLevel.Valid {
		v := int(specLevel.Int64)
		rec.SpecLevel = &v
	}
	rec.QualityScore = quality.Float64
	rec.QualityFlags = decodeList(flags)
	rec.ImportanceTier = types.NormalizeTier(tier.String)
	rec.ImportanceWeight = weight.Float64
	if !weight.Valid {
		rec.ImportanceWeight = 0.5
	}
	rec.BaseImportance = baseImp.Float64
	rec.DecayHalfLifeDays = halfLife.Float64
	rec.Stability = stability.Float64
	rec.Difficulty = difficulty.Float64
	rec.LastReview = parseNullTime(lastReview)
	rec.ReviewCount = int(reviewCount.Int64)
	rec.EmbeddingStatus = types.EmbeddingStatus(status.String)
	rec.EmbeddingModel = model.String
	rec.EmbeddingGeneratedAt = parseNullTime(genAt)
	rec.RetryCount = int(retryCount.Int64)
	rec.LastRetryAt = parseNullTime(lastRetry)
	rec.FailureReason = failure.String
	rec.AccessCount = int(accessCount.Int64)
	rec.LastAccessed = lastAcc.Int64
	rec.Confidence = confidence.Float64
	rec.IsPinned = pinned.Int64 != 0
	rec.IsArchived = archived.Int64 != 0
	rec.ExpiresAt = parseNullTime(expires)
	rec.SessionID = session.String
	rec.ContextType = types.ContextType(ctxType.String)
	if rec.ContextType == "" {
		rec.ContextType = types.ContextGeneral
	}
	rec.Channel = ch.String
	if parentID.Valid {
		v := parentID.Int64
		rec.ParentID = &v
	}
	if chunkIndex.Valid {
		v := int(chunkIndex.Int64)
		rec.ChunkIndex = &v
	}
	rec.ChunkLabel = chunkLabel.String
	rec.RelatedMemories = decodeLinks(related)
	rec.CreatedAt = parseTime(createdAt.String)
	rec.UpdatedAt = parseTime(updatedAt.String)
	if mtime.Valid {
		v := mtime.Int64
		rec.FileMtimeMs = &v
	}
	return &rec, nil
}

// scanRecords drains rows selected with recordColumns.
func scanRecords(rows *sql.Rows) ([]*types.MemoryRecord, error) {
	defer rows.Close()
	var out []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
