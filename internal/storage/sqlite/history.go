package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// historySnapshot is the subset of a record written to memory_history.
type historySnapshot struct {
	Title          string   `json:"title,omitempty"`
	TriggerPhrases []string `json:"trigger_phrases,omitempty"`
	Tier           string   `json:"importance_tier,omitempty"`
	Weight         float64  `json:"importance_weight"`
	ContentHash    string   `json:"content_hash,omitempty"`
	Status         string   `json:"embedding_status,omitempty"`
}

func snapshotOf(rec *types.MemoryRecord) string {
	if rec == nil {
		return ""
	}
	b, _ := json.Marshal(historySnapshot{
		Title:          rec.Title,
		TriggerPhrases: rec.TriggerPhrases,
		Tier:           string(rec.ImportanceTier),
		Weight:         rec.ImportanceWeight,
		ContentHash:    rec.ContentHash,
		Status:         string(rec.EmbeddingStatus),
	})
	return string(b)
}

// appendHistory records an audit row for memoryID.
func (s *Store) appendHistory(ctx context.Context, q storage.Querier, memoryID int64, event types.HistoryEvent, prev, next *types.MemoryRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO memory_history (id, memory_id, prev_value, new_value, event, timestamp, actor)
		VALUES (?, ?, ?, ?, ?, ?, 'system')
	`, uuid.NewString(), memoryID, nullableString(snapshotOf(prev)), nullableString(snapshotOf(next)),
		string(event), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns the audit trail of a record, oldest first.
func (s *Store) History(ctx context.Context, memoryID int64) ([]types.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, prev_value, new_value, event, timestamp, actor
		FROM memory_history WHERE memory_id = ? ORDER BY timestamp ASC, rowid ASC
	`, memoryID)
	if err != nil {
		return nil, s.wrap("history", memoryID, "", err)
	}
	defer rows.Close()

	var out []types.HistoryEntry
	for rows.Next() {
		var (
			e          types.HistoryEntry
			prev, next sql.NullString
			event, ts  string
			actor      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.MemoryID, &prev, &next, &event, &ts, &actor); err != nil {
			return nil, err
		}
		e.PrevValue, e.NewValue = prev.String, next.String
		e.Event = types.HistoryEvent(event)
		e.Timestamp = parseTime(ts)
		e.Actor = actor.String
		out = append(out, e)
	}
	return out, rows.Err()
}
