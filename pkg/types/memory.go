package types

import "time"

// MemoryRecord is a single indexed memory: metadata for one anchor of one
// source file, plus the lifecycle of its embedding.
//
// Identity is the (SpecFolder, FilePath, AnchorID) triple. CanonicalFilePath
// is the symlink-resolved alias used to match the same file under any path.
type MemoryRecord struct {
	// Identity
	ID                int64   `json:"id"`
	SpecFolder        string  `json:"spec_folder"`
	FilePath          string  `json:"file_path"`
	CanonicalFilePath string  `json:"canonical_file_path,omitempty"`
	AnchorID          *string `json:"anchor_id,omitempty"`

	// Content descriptors
	Title          string       `json:"title,omitempty"`
	TriggerPhrases []string     `json:"trigger_phrases,omitempty"`
	ContentText    string       `json:"content_text,omitempty"`
	ContentHash    string       `json:"content_hash,omitempty"`
	DocumentType   DocumentType `json:"document_type"`
	MemoryType     MemoryType   `json:"memory_type"`
	SpecLevel      *int         `json:"spec_level,omitempty"`
	QualityScore   float64      `json:"quality_score"`
	QualityFlags   []string     `json:"quality_flags,omitempty"`

	// Importance
	ImportanceTier    ImportanceTier `json:"importance_tier"`
	ImportanceWeight  float64        `json:"importance_weight"`
	BaseImportance    float64        `json:"base_importance"`
	DecayHalfLifeDays float64        `json:"decay_half_life_days"`

	// FSRS state
	Stability   float64    `json:"stability"`
	Difficulty  float64    `json:"difficulty"`
	LastReview  *time.Time `json:"last_review,omitempty"`
	ReviewCount int        `json:"review_count"`

	// Embedding lifecycle
	EmbeddingStatus      EmbeddingStatus `json:"embedding_status"`
	EmbeddingModel       string          `json:"embedding_model,omitempty"`
	EmbeddingGeneratedAt *time.Time      `json:"embedding_generated_at,omitempty"`
	RetryCount           int             `json:"retry_count"`
	LastRetryAt          *time.Time      `json:"last_retry_at,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`

	// Usage
	AccessCount  int        `json:"access_count"`
	LastAccessed int64      `json:"last_accessed"` // epoch milliseconds, 0 = never
	Confidence   float64    `json:"confidence"`
	IsPinned     bool       `json:"is_pinned"`
	IsArchived   bool       `json:"is_archived"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	// Scope
	SessionID   string      `json:"session_id,omitempty"`
	ContextType ContextType `json:"context_type"`
	Channel     string      `json:"channel,omitempty"`

	// Structure
	ParentID        *int64        `json:"parent_id,omitempty"`
	ChunkIndex      *int          `json:"chunk_index,omitempty"`
	ChunkLabel      string        `json:"chunk_label,omitempty"`
	RelatedMemories []RelatedLink `json:"related_memories,omitempty"`

	// Timestamps
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FileMtimeMs *int64    `json:"file_mtime_ms,omitempty"` // nil = never recorded
}

// IsConstitutional reports whether the record is always surfaced.
func (m *MemoryRecord) IsConstitutional() bool {
	return m.ImportanceTier == TierConstitutional
}

// IsChunk reports whether the record is a child chunk of a larger document.
func (m *MemoryRecord) IsChunk() bool {
	return m.ParentID != nil
}

// RelatedLink is a precomputed nearest-neighbour link stored with a record.
type RelatedLink struct {
	ID         int64   `json:"id"`
	Similarity float64 `json:"similarity"`
}

// MaxTriggerPhrases caps the trigger phrases stored per record.
const MaxTriggerPhrases = 10

// IngestRecord is the normalized record produced by the parser collaborator.
type IngestRecord struct {
	SpecFolder       string
	FilePath         string
	AnchorID         *string
	Title            string
	TriggerPhrases   []string
	ImportanceWeight *float64
	ImportanceTier   ImportanceTier
	DocumentType     DocumentType
	MemoryType       MemoryType
	ContextType      ContextType
	SpecLevel        *int
	ContentText      string
	ContentHash      string
	QualityScore     float64
	QualityFlags     []string
	ParentID         *int64
	ChunkIndex       *int
	ChunkLabel       string

	// FailureReason is recorded on deferred ingests.
	FailureReason string
}

// RecordUpdate lists the fields to change on an existing record.
// Nil fields are left untouched.
type RecordUpdate struct {
	Title            *string
	TriggerPhrases   []string
	ImportanceWeight *float64
	ImportanceTier   *ImportanceTier
	CanonicalPath    *string
	DocumentType     *DocumentType
	SpecLevel        *int
	ContentText      *string
	ContentHash      *string
	MemoryType       *MemoryType
	QualityScore     *float64
	QualityFlags     []string
	IsPinned         *bool
	IsArchived       *bool

	// Embedding replaces the stored vector and marks the record success.
	Embedding []float64
}

// StatusCounts is the per-status record count returned by the store.
type StatusCounts struct {
	Pending int `json:"pending"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Retry   int `json:"retry"`
}

// Total sums the four counted statuses.
func (c StatusCounts) Total() int {
	return c.Pending + c.Success + c.Failed + c.Retry
}
