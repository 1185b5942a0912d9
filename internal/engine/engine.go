// Package engine answers "what is relevant now" queries over the record
// store. It embeds queries, falls back to keyword matching when vectors are
// unavailable, folds in the constitutional tier, enriches results from their
// source files, and keeps both caches coherent with store mutations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/cache"
	"github.com/scrypster/memindex/internal/scoring"
	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// Search defaults.
const (
	DefaultSearchLimit       = 10
	DefaultMinSimilarity     = 30.0
	DefaultMaxTokens         = 2000
	TokensPerMemory          = 100
	MaxEnhancedFetch         = 100
	RelatedLinkLimit         = 5
	RelatedMinSimilarity     = 75.0
	relatedEmbedChars        = 1000
	maxLearnedTermsPerSelect = 3
	slowSearch               = 500 * time.Millisecond
)

// Options configures an Engine.
type Options struct {
	// Embedder produces query vectors. Nil runs keyword-only.
	Embedder Embedder

	// Weights are the smart-ranking weights used by EnhancedSearch.
	Weights scoring.Weights

	ConstitutionalTTL time.Duration
	QueryCacheSize    int
	QueryCacheTTL     time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// Engine is the search and lifecycle front of one record store.
type Engine struct {
	store    storage.RecordStore
	embedder Embedder
	weights  scoring.Weights
	log      *zap.Logger
	now      func() time.Time

	constitutional *cache.ConstitutionalCache
	queries        *cache.QueryCache[[]Result]
}

// New builds an Engine and subscribes its caches to store mutations.
func New(store storage.RecordStore, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: %w: store is required", storage.ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Weights == (scoring.Weights{}) {
		opts.Weights = scoring.DefaultWeights()
	}

	e := &Engine{
		store:    store,
		embedder: opts.Embedder,
		weights:  opts.Weights,
		log:      opts.Logger,
		now:      opts.Now,
		queries:  cache.NewQueryCache[[]Result](opts.QueryCacheSize, opts.QueryCacheTTL),
	}
	e.constitutional = cache.NewConstitutionalCache(store.ConstitutionalRows, cache.ConstitutionalOptions{
		TTL:     opts.ConstitutionalTTL,
		ModTime: store.ModTime,
		Now:     opts.Now,
		Logger:  opts.Logger,
	})
	store.OnChange(e.handleChange)
	return e, nil
}

// handleChange keeps the caches coherent. It runs synchronously after each
// committed mutation and must not call back into the store.
func (e *Engine) handleChange(ev storage.ChangeEvent) {
	if ev.Kind == storage.ChangeAccess {
		return
	}
	e.queries.Clear()
	switch {
	case ev.Constitutional:
		e.constitutional.Invalidate(ev.SpecFolder)
	case ev.Kind == storage.ChangeUpdate && ev.SpecFolder == "":
		// Column-level updates don't say which tier they touched.
		e.constitutional.Clear()
	}
}

// ClearSearchCache drops cached query results whose key or folder contains
// specFolder, or every entry when specFolder is empty. It returns how many
// entries were removed.
func (e *Engine) ClearSearchCache(specFolder string) int {
	if specFolder == "" {
		n := e.queries.Len()
		e.queries.Clear()
		return n
	}
	return e.queries.InvalidateFolder(specFolder)
}

// CacheStats reports the query cache counters.
func (e *Engine) CacheStats() cache.Stats { return e.queries.Stats() }

// ConstitutionalMemories returns the constitutional tier for specFolder (all
// folders when empty), capped to what fits in maxTokens at TokensPerMemory
// each. A non-positive maxTokens uses DefaultMaxTokens.
func (e *Engine) ConstitutionalMemories(ctx context.Context, specFolder string, maxTokens int) ([]storage.ScoredRecord, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	rows, err := e.constitutional.Get(ctx, specFolder)
	if err != nil {
		return nil, err
	}
	if n := maxTokens / TokensPerMemory; len(rows) > n {
		rows = rows[:n]
	}
	return rows, nil
}

// Save indexes rec with an embedding of its content. When embedding fails
// the record is stored deferred (status pending) with the failure reason so
// a later pass can retry. Successful saves are linked to their neighbours.
func (e *Engine) Save(ctx context.Context, rec *types.IngestRecord) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("engine: %w: nil record", storage.ErrInvalidInput)
	}
	vec, err := e.embed(ctx, rec.ContentText)
	if err != nil {
		e.log.Warn("engine: embedding failed, indexing deferred",
			zap.String("path", rec.FilePath), zap.Error(err))
		deferred := *rec
		deferred.FailureReason = err.Error()
		return e.store.IndexDeferred(ctx, &deferred)
	}

	id, err := e.store.IndexWithEmbedding(ctx, rec, vec)
	if errors.Is(err, storage.ErrVectorUnavailable) {
		return e.store.IndexDeferred(ctx, rec)
	}
	if err != nil {
		return 0, err
	}
	if _, err := e.linkRelated(ctx, id, vec); err != nil {
		e.log.Warn("engine: failed to link related memories", zap.Int64("id", id), zap.Error(err))
	}
	return id, nil
}

// embed returns the query vector, or an error when no embedder is
// configured or vectors cannot be searched.
func (e *Engine) embed(ctx context.Context, text string) ([]float64, error) {
	if e.embedder == nil {
		return nil, storage.ErrVectorUnavailable
	}
	if !e.store.VectorSearchAvailable() {
		return nil, storage.ErrVectorUnavailable
	}
	return e.embedder.Embed(ctx, text)
}

// RecordAccess increments the access counter of id.
func (e *Engine) RecordAccess(ctx context.Context, id int64) (bool, error) {
	return e.store.RecordAccess(ctx, id)
}

// UpdateConfidence sets the confidence of id; value must be in [0, 1].
func (e *Engine) UpdateConfidence(ctx context.Context, id int64, value float64) (bool, error) {
	return e.store.UpdateConfidence(ctx, id, value)
}

// UpdateEmbeddingStatus sets the embedding status of id.
func (e *Engine) UpdateEmbeddingStatus(ctx context.Context, id int64, status types.EmbeddingStatus) (bool, error) {
	return e.store.UpdateEmbeddingStatus(ctx, id, status)
}

// DeleteMemory removes id with its vector, chunks and history.
func (e *Engine) DeleteMemory(ctx context.Context, id int64) (bool, error) {
	return e.store.Delete(ctx, id)
}

// DeleteMemories removes ids atomically.
func (e *Engine) DeleteMemories(ctx context.Context, ids []int64) (storage.DeleteManyResult, error) {
	return e.store.DeleteMany(ctx, ids)
}

// Review grades a recall of id and persists the advanced FSRS state.
func (e *Engine) Review(ctx context.Context, id int64, grade scoring.ReviewGrade) (scoring.ReviewOutcome, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return scoring.ReviewOutcome{}, err
	}
	if rec == nil {
		return scoring.ReviewOutcome{}, fmt.Errorf("engine: record %d: %w", id, storage.ErrNotFound)
	}
	out := scoring.Review(scoring.ReviewState{
		Stability:   rec.Stability,
		Difficulty:  rec.Difficulty,
		LastReview:  rec.LastReview,
		ReviewCount: rec.ReviewCount,
	}, grade, e.now())
	if err := e.store.RecordReview(ctx, id, out.Stability, out.Difficulty, out.ReviewedAt); err != nil {
		return scoring.ReviewOutcome{}, err
	}
	return out, nil
}
