package types

import "time"

// CausalRelation names the kind of a directed edge between two memories.
type CausalRelation string

const (
	RelationCaused      CausalRelation = "caused"
	RelationEnabled     CausalRelation = "enabled"
	RelationSupersedes  CausalRelation = "supersedes"
	RelationContradicts CausalRelation = "contradicts"
	RelationDerivedFrom CausalRelation = "derived_from"
	RelationSupports    CausalRelation = "supports"
)

// IsValid reports whether r is one of the six persisted relations.
func (r CausalRelation) IsValid() bool {
	switch r {
	case RelationCaused, RelationEnabled, RelationSupersedes,
		RelationContradicts, RelationDerivedFrom, RelationSupports:
		return true
	}
	return false
}

// CausalEdge links two memory records. At most one edge exists per
// (SourceID, TargetID, Relation).
type CausalEdge struct {
	ID          int64          `json:"id"`
	SourceID    int64          `json:"source_id"`
	TargetID    int64          `json:"target_id"`
	Relation    CausalRelation `json:"relation"`
	Strength    float64        `json:"strength"` // 0.0-1.0
	Evidence    string         `json:"evidence,omitempty"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// HistoryEvent is the kind of change recorded in a record's audit trail.
type HistoryEvent string

const (
	HistoryAdd    HistoryEvent = "ADD"
	HistoryUpdate HistoryEvent = "UPDATE"
	HistoryDelete HistoryEvent = "DELETE"
)

// HistoryEntry is one row of the append-only memory history.
type HistoryEntry struct {
	ID        string       `json:"id"` // uuid
	MemoryID  int64        `json:"memory_id"`
	PrevValue string       `json:"prev_value,omitempty"`
	NewValue  string       `json:"new_value,omitempty"`
	Event     HistoryEvent `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Actor     string       `json:"actor"`
}
