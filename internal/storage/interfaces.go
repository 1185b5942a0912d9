// Package storage defines the contracts of the memory index: the record
// store, the pluggable vector side, and the error taxonomy shared by every
// backend.
//
// Backends live in sub-packages: sqlite holds the metadata store and its
// built-in vector table, postgres provides a pgvector-backed VectorIndex.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/scrypster/memindex/pkg/types"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so that helpers can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// VectorIndex stores one embedding per record id and answers cosine
// distance queries. Distances are in [0, 2].
//
// The Querier argument is the metadata store's current transaction. Indexes
// living in the same database use it so that metadata and vector writes
// commit together; indexes in another database may ignore it.
type VectorIndex interface {
	// Available reports whether vector operations can be served. When false
	// the store runs in deferred-indexing mode.
	Available() bool

	// Dimension returns the configured embedding length.
	Dimension() int

	// Put replaces the vector stored for id.
	Put(ctx context.Context, q Querier, id int64, vec []float64) error

	// Delete removes the vector for id. Deleting a missing vector is not an error.
	Delete(ctx context.Context, q Querier, id int64) error

	// Distances returns the cosine distance between query and each of ids that
	// has a stored vector. Ids without a vector are absent from the map.
	Distances(ctx context.Context, q Querier, query []float64, ids []int64) (map[int64]float64, error)

	// IDs lists every id that has a stored vector.
	IDs(ctx context.Context, q Querier) ([]int64, error)

	// Count returns the number of stored vectors.
	Count(ctx context.Context, q Querier) (int, error)
}

// RecordStore is the record store consumed by the search engine.
type RecordStore interface {
	// Upsert inserts rec or updates the record with the same identity
	// triple. A nil embedding stores metadata only with status pending.
	Upsert(ctx context.Context, rec *types.IngestRecord, embedding []float64) (int64, error)

	// IndexWithEmbedding upserts rec; the embedding is required.
	IndexWithEmbedding(ctx context.Context, rec *types.IngestRecord, embedding []float64) (int64, error)

	// IndexDeferred upserts rec without an embedding (status pending).
	IndexDeferred(ctx context.Context, rec *types.IngestRecord) (int64, error)

	// Update changes only the fields set in upd.
	// Returns an error wrapping ErrNotFound if the record doesn't exist.
	Update(ctx context.Context, id int64, upd types.RecordUpdate) error

	// Get returns the record or nil when it does not exist.
	Get(ctx context.Context, id int64) (*types.MemoryRecord, error)

	// GetMany returns the existing records among ids, in the order given.
	GetMany(ctx context.Context, ids []int64) ([]*types.MemoryRecord, error)

	// Delete removes the record, its vector and its history.
	// Returns false when the record does not exist.
	Delete(ctx context.Context, id int64) (bool, error)

	// DeleteByIdentity deletes the record matching the identity triple.
	DeleteByIdentity(ctx context.Context, specFolder, filePath string, anchorID *string) (bool, error)

	// DeleteMany deletes all ids atomically. If any id fails nothing is
	// deleted and a *BatchDeleteError lists the failed ids.
	DeleteMany(ctx context.Context, ids []int64) (DeleteManyResult, error)

	// PendingEmbeddings returns records waiting for a vector, oldest first.
	PendingEmbeddings(ctx context.Context, limit int) ([]*types.MemoryRecord, error)

	// CountByStatus counts records per embedding status.
	CountByStatus(ctx context.Context) (types.StatusCounts, error)

	// RecordAccess increments access_count and stamps last_accessed.
	RecordAccess(ctx context.Context, id int64) (bool, error)

	// UpdateConfidence sets confidence; value must be in [0, 1].
	UpdateConfidence(ctx context.Context, id int64, value float64) (bool, error)

	// UpdateEmbeddingStatus sets the embedding status of a record.
	UpdateEmbeddingStatus(ctx context.Context, id int64, status types.EmbeddingStatus) (bool, error)

	// RecordReview persists advanced FSRS state for a record.
	RecordReview(ctx context.Context, id int64, stability, difficulty float64, at time.Time) error

	// SetRelatedMemories stores precomputed neighbour links.
	SetRelatedMemories(ctx context.Context, id int64, links []types.RelatedLink) error

	// VectorSearch returns records ranked by distance nudged by importance.
	// Returns ErrVectorUnavailable when the vector side is unusable.
	VectorSearch(ctx context.Context, query []float64, opts VectorSearchOptions) ([]ScoredRecord, error)

	// MultiConceptSearch returns records close to every concept vector.
	MultiConceptSearch(ctx context.Context, concepts [][]float64, opts MultiConceptOptions) ([]ScoredRecord, error)

	// KeywordSearch scores records by term hits in title, triggers and path.
	KeywordSearch(ctx context.Context, query string, opts KeywordOptions) ([]ScoredRecord, error)

	// ConstitutionalRows returns the constitutional tier for specFolder
	// (all folders when empty), strongest first.
	ConstitutionalRows(ctx context.Context, specFolder string) ([]ScoredRecord, error)

	// VectorSearchAvailable is the degraded-mode signal.
	VectorSearchAvailable() bool

	// ModTime returns the last on-disk modification time of the store.
	ModTime() (time.Time, error)

	// OnChange registers fn to be called after every committed mutation.
	OnChange(fn func(ChangeEvent))
}
