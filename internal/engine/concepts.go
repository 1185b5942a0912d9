package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/storage"
)

// Concept is one term of a multi-concept search: text to embed, or a vector
// that is used as is.
type Concept struct {
	Text   string
	Vector []float64
}

// TextConcept returns a concept that is embedded before searching.
func TextConcept(s string) Concept { return Concept{Text: s} }

// VectorConcept returns a concept given by its vector.
func VectorConcept(v []float64) Concept { return Concept{Vector: v} }

// keywordIntersectionFetch bounds each per-concept keyword search.
const keywordIntersectionFetch = 100

// MultiConceptSearch returns records relevant to every concept (2 to 5).
// When vectors are unavailable or a text concept cannot be embedded it falls
// back to intersecting keyword searches of the text concepts.
func (e *Engine) MultiConceptSearch(ctx context.Context, concepts []Concept, opts storage.MultiConceptOptions) ([]Result, error) {
	if len(concepts) < storage.MinConcepts || len(concepts) > storage.MaxConcepts {
		return nil, fmt.Errorf("engine: %w: multi-concept search requires %d-%d concepts, got %d",
			storage.ErrInvalidArgument, storage.MinConcepts, storage.MaxConcepts, len(concepts))
	}
	for i, c := range concepts {
		if c.Vector == nil && c.Text == "" {
			return nil, fmt.Errorf("engine: %w: concept %d is empty", storage.ErrInvalidInput, i)
		}
	}
	opts.Normalize()

	if !e.store.VectorSearchAvailable() {
		e.log.Warn("engine: vectors unavailable, falling back to keyword multi-concept search")
		return e.keywordIntersection(ctx, concepts, opts)
	}

	vecs := make([][]float64, 0, len(concepts))
	for _, c := range concepts {
		if c.Vector != nil {
			vecs = append(vecs, c.Vector)
			continue
		}
		v, err := e.embed(ctx, c.Text)
		if err != nil {
			if !errors.Is(err, storage.ErrVectorUnavailable) {
				e.log.Warn("engine: failed to embed concept, falling back to keyword search",
					zap.String("concept", c.Text), zap.Error(err))
			}
			return e.keywordIntersection(ctx, concepts, opts)
		}
		vecs = append(vecs, v)
	}

	rows, err := e.store.MultiConceptSearch(ctx, vecs, opts)
	if errors.Is(err, storage.ErrVectorUnavailable) {
		return e.keywordIntersection(ctx, concepts, opts)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = e.enrich(r, MethodVector)
		out[i].Similarity = out[i].AvgSimilarity
		out[i].Rank = i + 1
	}
	return out, nil
}

// keywordIntersection keeps records that every text concept's keyword search
// found, in first-seen order. Vector concepts cannot take part.
func (e *Engine) keywordIntersection(ctx context.Context, concepts []Concept, opts storage.MultiConceptOptions) ([]Result, error) {
	var texts []string
	for _, c := range concepts {
		if c.Vector == nil && c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	counts := make(map[int64]int)
	first := make(map[int64]storage.ScoredRecord)
	var order []int64
	for _, t := range texts {
		rows, err := e.store.KeywordSearch(ctx, t, storage.KeywordOptions{
			Limit:           keywordIntersectionFetch,
			SpecFolder:      opts.SpecFolder,
			IncludeArchived: opts.IncludeArchived,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if _, ok := first[r.ID]; !ok {
				first[r.ID] = r
				order = append(order, r.ID)
			}
			counts[r.ID]++
		}
	}

	var out []Result
	for _, id := range order {
		if counts[id] != len(texts) {
			continue
		}
		r := first[id]
		score := r.KeywordScore
		if score <= 0 {
			score = 1
		}
		res := e.enrich(r, MethodKeyword)
		// Keyword scores are unbounded; the percent scale caps at 100.
		res.AvgSimilarity = storage.Round2(math.Min(100, score*15))
		res.Similarity = res.AvgSimilarity
		res.ConceptSimilarities = make([]float64, len(texts))
		for i := range res.ConceptSimilarities {
			res.ConceptSimilarities[i] = res.AvgSimilarity
		}
		res.Rank = len(out) + 1
		out = append(out, res)
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}
