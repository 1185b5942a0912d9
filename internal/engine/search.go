package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/cache"
	"github.com/scrypster/memindex/internal/extract"
	"github.com/scrypster/memindex/internal/scoring"
	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// SearchMethod names how a result was found.
type SearchMethod string

const (
	MethodVector         SearchMethod = "vector"
	MethodKeyword        SearchMethod = "keyword"
	MethodConstitutional SearchMethod = "constitutional"
)

// Result is one enriched search hit.
type Result struct {
	ID               int64                `json:"id"`
	Rank             int                  `json:"rank"`
	Similarity       float64              `json:"similarity"`
	Title            string               `json:"title"`
	SpecFolder       string               `json:"spec_folder"`
	FilePath         string               `json:"file_path"`
	Date             string               `json:"date,omitempty"`
	Tags             []string             `json:"tags,omitempty"`
	Snippet          string               `json:"snippet,omitempty"`
	ImportanceWeight float64              `json:"importance_weight"`
	ImportanceTier   types.ImportanceTier `json:"importance_tier"`
	SearchMethod     SearchMethod         `json:"search_method"`
	IsConstitutional bool                 `json:"is_constitutional"`

	// Multi-concept searches only.
	ConceptSimilarities []float64 `json:"concept_similarities,omitempty"`
	AvgSimilarity       float64   `json:"avg_similarity,omitempty"`

	// Set by EnhancedSearch.
	SmartScore float64 `json:"smart_score,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	AccessCount int       `json:"access_count"`
}

func (r *Result) SmartInputs() (float64, time.Time, int) {
	return r.Similarity, r.CreatedAt, r.AccessCount
}

func (r *Result) SetSmartScore(s float64) { r.SmartScore = s }

func (r *Result) GetSmartScore() float64 { return r.SmartScore }

var _ scoring.Scorable = (*Result)(nil)

// SearchOptions filters a search. The JSON form is part of the query cache
// key.
type SearchOptions struct {
	SpecFolder string `json:"spec_folder,omitempty"`

	// MinSimilarity in percent. Zero uses DefaultMinSimilarity; a negative
	// value disables the threshold.
	MinSimilarity float64 `json:"min_similarity,omitempty"`

	Tier        types.ImportanceTier `json:"tier,omitempty"`
	ContextType types.ContextType    `json:"context_type,omitempty"`

	// ExcludeConstitutional stops the constitutional tier from being
	// prepended.
	ExcludeConstitutional bool `json:"exclude_constitutional,omitempty"`
	IncludeArchived       bool `json:"include_archived,omitempty"`
	NoDecay               bool `json:"no_decay,omitempty"`
}

func (o SearchOptions) minSimilarity() float64 {
	switch {
	case o.MinSimilarity < 0:
		return 0
	case o.MinSimilarity == 0:
		return DefaultMinSimilarity
	default:
		return o.MinSimilarity
	}
}

// prependConstitutional reports whether the constitutional tier is folded
// in. A tier filter of exactly constitutional already returns it.
func (o SearchOptions) prependConstitutional() bool {
	if o.ExcludeConstitutional {
		return false
	}
	return o.Tier == "" || types.NormalizeTier(string(o.Tier)) != types.TierConstitutional
}

// Search embeds query and runs a vector search, or a keyword search when
// vectors are unavailable or the query cannot be embedded. Unless excluded,
// or the tier filter is itself constitutional, constitutional records are
// prepended and take their share of limit. At least one regular result is
// always kept, so the result may hold limit+1 entries.
func (e *Engine) Search(ctx context.Context, query string, limit int, opts SearchOptions) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("engine: %w: empty query", storage.ErrInvalidInput)
	}
	if limit < 1 {
		limit = DefaultSearchLimit
	}
	start := e.now()

	var head []storage.ScoredRecord
	if opts.prependConstitutional() {
		rows, err := e.constitutional.Get(ctx, opts.SpecFolder)
		if err != nil {
			e.log.Warn("engine: constitutional lookup failed", zap.Error(err))
		}
		if len(rows) > limit {
			rows = rows[:limit]
		}
		head = rows
	}

	rows, method, err := e.searchRows(ctx, query, max(1, limit-len(head)), opts)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(head)+len(rows))
	seen := make(map[int64]bool, len(head)+len(rows))
	for _, r := range head {
		seen[r.ID] = true
		out = append(out, e.enrich(r, MethodConstitutional))
	}
	for _, r := range rows {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		res := e.enrich(r, method)
		if method == MethodKeyword {
			res.Similarity = storage.Round2(math.Min(100, r.KeywordScore*20))
		}
		out = append(out, res)
	}
	for i := range out {
		out[i].Rank = i + 1
	}

	if elapsed := e.now().Sub(start); elapsed > slowSearch {
		e.log.Warn("engine: slow search", zap.Duration("elapsed", elapsed), zap.String("method", string(method)))
	}
	return out, nil
}

// searchRows runs the vector search, degrading to keyword search.
func (e *Engine) searchRows(ctx context.Context, query string, limit int, opts SearchOptions) ([]storage.ScoredRecord, SearchMethod, error) {
	vec, err := e.embed(ctx, query)
	if err == nil {
		rows, err := e.store.VectorSearch(ctx, vec, storage.VectorSearchOptions{
			Limit:           limit,
			SpecFolder:      opts.SpecFolder,
			MinSimilarity:   opts.minSimilarity(),
			NoDecay:         opts.NoDecay,
			Tier:            opts.Tier,
			ContextType:     opts.ContextType,
			IncludeArchived: opts.IncludeArchived,
			Now:             e.now(),
		})
		if err == nil {
			return rows, MethodVector, nil
		}
		if !errors.Is(err, storage.ErrVectorUnavailable) {
			return nil, "", err
		}
	} else if !errors.Is(err, storage.ErrVectorUnavailable) {
		e.log.Warn("engine: query embedding failed, falling back to keyword search", zap.Error(err))
	}

	rows, err := e.store.KeywordSearch(ctx, query, storage.KeywordOptions{
		Limit:           limit,
		SpecFolder:      opts.SpecFolder,
		IncludeArchived: opts.IncludeArchived,
	})
	if err != nil {
		return nil, "", err
	}
	return rows, MethodKeyword, nil
}

// KeywordSearch runs the keyword scorer directly. Similarity is
// min(100, 20*score).
func (e *Engine) KeywordSearch(ctx context.Context, query string, limit int, opts SearchOptions) ([]Result, error) {
	if limit < 1 {
		limit = storage.DefaultKeywordLimit
	}
	rows, err := e.store.KeywordSearch(ctx, query, storage.KeywordOptions{
		Limit:           limit,
		SpecFolder:      opts.SpecFolder,
		IncludeArchived: opts.IncludeArchived,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = e.enrich(r, MethodKeyword)
		out[i].Similarity = storage.Round2(math.Min(100, r.KeywordScore*20))
		out[i].Rank = i + 1
	}
	return out, nil
}

// CachedSearch is Search behind the LRU query cache.
func (e *Engine) CachedSearch(ctx context.Context, query string, limit int, opts SearchOptions) ([]Result, error) {
	key := cache.Key(query, limit, opts)
	if hit, ok := e.queries.Get(key); ok {
		return slices.Clone(hit), nil
	}
	results, err := e.Search(ctx, query, limit, opts)
	if err != nil {
		return nil, err
	}
	e.queries.Set(key, opts.SpecFolder, slices.Clone(results))
	return results, nil
}

// EnhancedOptions extends SearchOptions with re-ranking controls.
type EnhancedOptions struct {
	SearchOptions

	// DiversityFactor is the MMR trade-off; nil uses the default 0.3.
	DiversityFactor *float64
	NoDiversity     bool
}

// EnhancedSearch over-fetches min(2*limit, 100) results, smart-ranks them,
// re-orders for diversity and truncates to limit.
func (e *Engine) EnhancedSearch(ctx context.Context, query string, limit int, opts EnhancedOptions) ([]Result, error) {
	if limit < 1 {
		limit = DefaultSearchLimit
	}
	fetch := min(limit*2, MaxEnhancedFetch)
	results, err := e.Search(ctx, query, fetch, opts.SearchOptions)
	if err != nil {
		return nil, err
	}

	ptrs := make([]*Result, len(results))
	for i := range results {
		ptrs[i] = &results[i]
	}
	ptrs = scoring.ApplySmartRanking(ptrs, e.weights, e.now())

	if !opts.NoDiversity {
		factor := scoring.DefaultDiversityFactor
		if opts.DiversityFactor != nil {
			factor = *opts.DiversityFactor
		}
		ptrs = scoring.ApplyDiversity(ptrs, factor, func(r *Result) scoring.DiversityKey {
			return scoring.DiversityKey{Relevance: r.SmartScore, Folder: r.SpecFolder, Date: r.Date}
		})
	}

	if len(ptrs) > limit {
		ptrs = ptrs[:limit]
	}
	out := make([]Result, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
		out[i].Rank = i + 1
	}
	return out, nil
}

// enrich builds a Result from a scored row, reading the source file for the
// display fields. A missing file leaves them to the stored metadata.
func (e *Engine) enrich(r storage.ScoredRecord, method SearchMethod) Result {
	content := readSource(r.FilePath)

	title := r.Title
	if title == "" {
		title = extract.Title(content, r.FilePath)
	}
	date := extract.Date(content, r.FilePath)
	if date == "" && !r.CreatedAt.IsZero() {
		date = r.CreatedAt.UTC().Format("2006-01-02")
	}

	return Result{
		ID:                  r.ID,
		Similarity:          storage.Round2(r.Similarity),
		Title:               title,
		SpecFolder:          r.SpecFolder,
		FilePath:            r.FilePath,
		Date:                date,
		Tags:                extract.Tags(content),
		Snippet:             extract.Snippet(content, extract.DefaultSnippetLength),
		ImportanceWeight:    r.ImportanceWeight,
		ImportanceTier:      r.ImportanceTier,
		SearchMethod:        method,
		IsConstitutional:    r.IsConstitutional(),
		ConceptSimilarities: r.ConceptSimilarities,
		AvgSimilarity:       storage.Round2(r.AvgSimilarity),
		CreatedAt:           r.CreatedAt,
		AccessCount:         r.AccessCount,
	}
}

func readSource(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}
