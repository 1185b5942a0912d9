package storage

import (
	"math"
	"time"

	"github.com/scrypster/memindex/pkg/types"
)

// Search limits and thresholds.
const (
	DefaultVectorLimit       = 10
	DefaultKeywordLimit      = 20
	DefaultMultiConceptLimit = 10
	DefaultMultiConceptMin   = 50.0
	MinConcepts              = 2
	MaxConcepts              = 5
	MaxConstitutionalRows    = 20
	DefaultPendingBatch      = 50

	// MaxEmbeddingRetries bounds how often a pending record is re-embedded
	// before it is marked failed.
	MaxEmbeddingRetries = 3
)

// VectorSearchOptions filters and bounds a vector search.
type VectorSearchOptions struct {
	// Limit is the maximum number of results (default: 10).
	Limit int

	// SpecFolder restricts results to one folder. Empty means all folders.
	SpecFolder string

	// MinSimilarity is the minimum similarity in percent (0-100).
	MinSimilarity float64

	// NoDecay orders by raw importance weight instead of effective importance.
	NoDecay bool

	// Tier restricts results to one tier. Empty excludes the deprecated and
	// constitutional tiers.
	Tier types.ImportanceTier

	// ContextType restricts results to one context type.
	ContextType types.ContextType

	// IncludeArchived includes archived records.
	IncludeArchived bool

	// Now overrides the clock used for decay. Zero means time.Now().
	Now time.Time
}

// Normalize applies defaults to the VectorSearchOptions.
func (o *VectorSearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = DefaultVectorLimit
	}
	if o.MinSimilarity < 0 {
		o.MinSimilarity = 0
	}
	if o.MinSimilarity > 100 {
		o.MinSimilarity = 100
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
}

// MaxDistance converts a minimum similarity in percent into the largest
// accepted cosine distance.
func MaxDistance(minSimilarity float64) float64 {
	return 2 * (1 - minSimilarity/100)
}

// SimilarityFromDistance converts a cosine distance into a percentage
// rounded to two decimals.
func SimilarityFromDistance(d float64) float64 {
	return Round2((1 - d/2) * 100)
}

// MultiConceptOptions bounds a multi-concept search.
type MultiConceptOptions struct {
	// MinSimilarity applies to every concept (default: 50).
	MinSimilarity float64

	// Limit is the maximum number of results (default: 10).
	Limit int

	SpecFolder      string
	IncludeArchived bool
}

// Normalize applies defaults to the MultiConceptOptions.
func (o *MultiConceptOptions) Normalize() {
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = DefaultMultiConceptMin
	}
	if o.MinSimilarity > 100 {
		o.MinSimilarity = 100
	}
	if o.Limit < 1 {
		o.Limit = DefaultMultiConceptLimit
	}
}

// KeywordOptions bounds a keyword search.
type KeywordOptions struct {
	Limit           int // default: 20
	SpecFolder      string
	IncludeArchived bool
}

// Normalize applies defaults to the KeywordOptions.
func (o *KeywordOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = DefaultKeywordLimit
	}
}

// ScoredRecord is a record returned by a search primitive together with
// the scores that ranked it.
type ScoredRecord struct {
	types.MemoryRecord

	// Similarity is in percent (0-100). Constitutional rows report 100.
	Similarity float64 `json:"similarity"`

	// EffectiveImportance is the decayed importance used in ordering.
	EffectiveImportance float64 `json:"effective_importance,omitempty"`

	// KeywordScore is set by keyword search.
	KeywordScore float64 `json:"keyword_score,omitempty"`

	// ConceptSimilarities and AvgSimilarity are set by multi-concept search.
	ConceptSimilarities []float64 `json:"concept_similarities,omitempty"`
	AvgSimilarity       float64   `json:"avg_similarity,omitempty"`
}

// DeleteManyResult reports the outcome of an atomic batch delete.
type DeleteManyResult struct {
	Deleted   int     `json:"deleted"`
	Failed    int     `json:"failed"`
	FailedIDs []int64 `json:"failed_ids,omitempty"`
}

// Stats is a summary of the store contents.
type Stats struct {
	Total int `json:"total"`
	types.StatusCounts
	Vectors          int  `json:"vectors"`
	VectorsAvailable bool `json:"vectors_available"`
}

// UsageSort selects the ordering of usage statistics.
type UsageSort string

const (
	SortByAccessCount  UsageSort = "access_count"
	SortByLastAccessed UsageSort = "last_accessed"
	SortByConfidence   UsageSort = "confidence"
)

// UsageOptions bounds a usage statistics query.
type UsageOptions struct {
	SortBy     UsageSort
	Descending bool
	Limit      int // default: 20
}

// Normalize applies defaults to the UsageOptions.
func (o *UsageOptions) Normalize() {
	switch o.SortBy {
	case SortByAccessCount, SortByLastAccessed, SortByConfidence:
	default:
		o.SortBy = SortByAccessCount
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
}

// UsageStat is one row of usage statistics.
type UsageStat struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	SpecFolder   string  `json:"spec_folder"`
	FilePath     string  `json:"file_path"`
	AccessCount  int     `json:"access_count"`
	LastAccessed int64   `json:"last_accessed"`
	Confidence   float64 `json:"confidence"`
}

// FileState is the persisted state consulted by incremental indexing.
type FileState struct {
	ID                int64
	FilePath          string
	CanonicalFilePath string
	FileMtimeMs       *int64 // nil = never recorded
	EmbeddingStatus   types.EmbeddingStatus
}

// FileMtime pairs a path with the disk mtime to record for it.
type FileMtime struct {
	Path    string
	MtimeMs int64
}

// CleanupOptions selects low-value records.
type CleanupOptions struct {
	MaxAgeDays     int     // default: 90
	MaxAccessCount int     // default: 2
	MaxConfidence  float64 // default: 0.4
	Limit          int     // default: 50
}

// Normalize applies defaults to the CleanupOptions.
func (o *CleanupOptions) Normalize() {
	if o.MaxAgeDays < 1 {
		o.MaxAgeDays = 90
	}
	if o.MaxAccessCount < 1 {
		o.MaxAccessCount = 2
	}
	if o.MaxConfidence <= 0 {
		o.MaxConfidence = 0.4
	}
	if o.Limit < 1 {
		o.Limit = 50
	}
}

// DefaultCleanupOptions returns the defaults used by maintenance scans.
func DefaultCleanupOptions() CleanupOptions {
	var o CleanupOptions
	o.Normalize()
	return o
}

// CleanupCandidate is a low-value record proposed for review.
type CleanupCandidate struct {
	ID           int64     `json:"id"`
	SpecFolder   string    `json:"spec_folder"`
	FilePath     string    `json:"file_path"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed int64     `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
	Confidence   float64   `json:"confidence"`
	Age          string    `json:"age"`
	Reasons      []string  `json:"reasons"`
}

// IntegrityOptions controls an integrity scan.
type IntegrityOptions struct {
	// AutoClean deletes orphaned vectors. Missing vectors are never healed.
	AutoClean bool

	// SkipFileCheck skips the on-disk existence check of file paths.
	SkipFileCheck bool
}

// OrphanedFile is a record whose source file no longer exists.
type OrphanedFile struct {
	ID       int64  `json:"id"`
	FilePath string `json:"file_path"`
	Reason   string `json:"reason"`
}

// IntegrityReport is the result of an integrity scan.
type IntegrityReport struct {
	TotalMemories     int            `json:"total_memories"`
	TotalVectors      int            `json:"total_vectors"`
	OrphanedVectors   int            `json:"orphaned_vectors"`
	OrphanedVectorIDs []int64        `json:"orphaned_vector_ids,omitempty"`
	MissingVectors    int            `json:"missing_vectors"`
	MissingVectorIDs  []int64        `json:"missing_vector_ids,omitempty"`
	OrphanedFiles     []OrphanedFile `json:"orphaned_files,omitempty"`
	Cleaned           int            `json:"cleaned"`
	IsConsistent      bool           `json:"is_consistent"`
}

// Violation returns an *IntegrityViolationError describing remaining
// orphaned or missing vectors, or nil when none remain.
func (r *IntegrityReport) Violation() error {
	orphans := r.OrphanedVectorIDs
	if r.Cleaned > 0 {
		orphans = nil
	}
	if len(orphans) == 0 && len(r.MissingVectorIDs) == 0 {
		return nil
	}
	return &IntegrityViolationError{OrphanedVectors: orphans, MissingVectors: r.MissingVectorIDs}
}

// Round2 rounds v to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ChangeKind names the mutation reported by a ChangeEvent.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
	ChangeAccess ChangeKind = "access"
)

// ChangeEvent is emitted after a committed mutation so that caches built on
// top of the store can invalidate.
type ChangeEvent struct {
	Kind       ChangeKind
	IDs        []int64
	SpecFolder string

	// Constitutional is set when a constitutional record was inserted,
	// changed or deleted, or when a record entered or left that tier.
	Constitutional bool
}
