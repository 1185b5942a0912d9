package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/memindex/internal/scoring"
	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// importanceNudge scales effective importance when it is subtracted from
// the cosine distance to order vector results.
const importanceNudge = 0.1

// loadChunk bounds the number of ids bound into one IN (...) clause.
const loadChunk = 500

// candidateIDs runs a filtered id query.
func (s *Store) candidateIDs(ctx context.Context, where []string, args []any) ([]int64, error) {
	query := `SELECT id FROM memory_index`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadRecords reads ids in chunks and returns them keyed by id.
func (s *Store) loadRecords(ctx context.Context, ids []int64) (map[int64]*types.MemoryRecord, error) {
	out := make(map[int64]*types.MemoryRecord, len(ids))
	for start := 0; start < len(ids); start += loadChunk {
		chunk := ids[start:min(start+loadChunk, len(ids))]
		recs, err := s.GetMany(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out[r.ID] = r
		}
	}
	return out, nil
}

func archivedFilter(include bool, where []string) []string {
	if include {
		return where
	}
	return append(where, `(is_archived IS NULL OR is_archived = 0)`)
}

// VectorSearch ranks embedded records by cosine distance to query, nudged by
// effective importance, and drops anything below opts.MinSimilarity.
// Constitutional records are not part of the result unless opts.Tier asks
// for them; callers prepend them separately.
func (s *Store) VectorSearch(ctx context.Context, query []float64, opts storage.VectorSearchOptions) ([]storage.ScoredRecord, error) {
	if !s.vectors.Available() {
		return nil, storage.ErrVectorUnavailable
	}
	if err := storage.CheckDimension(query, s.dim); err != nil {
		return nil, err
	}
	opts.Normalize()

	where := []string{
		`embedding_status = 'success'`,
		`(expires_at IS NULL OR expires_at > ?)`,
	}
	args := []any{formatTime(opts.Now)}
	where = archivedFilter(opts.IncludeArchived, where)
	if opts.Tier != "" {
		where = append(where, `importance_tier = ?`)
		args = append(args, string(types.NormalizeTier(string(opts.Tier))))
	} else {
		where = append(where, `(importance_tier IS NULL OR importance_tier NOT IN ('deprecated', 'constitutional'))`)
	}
	if opts.SpecFolder != "" {
		where = append(where, `spec_folder = ?`)
		args = append(args, opts.SpecFolder)
	}
	if opts.ContextType != "" {
		where = append(where, `context_type = ?`)
		args = append(args, string(opts.ContextType))
	}

	ids, err := s.candidateIDs(ctx, where, args)
	if err != nil {
		return nil, s.wrap("vector search", 0, "", err)
	}
	dists, err := s.vectors.Distances(ctx, s.db, query, ids)
	if err != nil {
		return nil, s.wrap("vector search", 0, "", err)
	}

	maxDist := storage.MaxDistance(opts.MinSimilarity)
	kept := make([]int64, 0, len(dists))
	for _, id := range ids {
		if d, ok := dists[id]; ok && d <= maxDist {
			kept = append(kept, id)
		}
	}
	recs, err := s.loadRecords(ctx, kept)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		storage.ScoredRecord
		key float64
	}
	results := make([]ranked, 0, len(kept))
	for _, id := range kept {
		rec, ok := recs[id]
		if !ok {
			continue
		}
		ei := rec.ImportanceWeight
		if !opts.NoDecay {
			ei = scoring.EffectiveImportance(rec, opts.Now)
		}
		results = append(results, ranked{
			ScoredRecord: storage.ScoredRecord{
				MemoryRecord:        *rec,
				Similarity:          storage.SimilarityFromDistance(dists[id]),
				EffectiveImportance: ei,
			},
			key: dists[id] - ei*importanceNudge,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].key < results[j].key })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	out := make([]storage.ScoredRecord, len(results))
	for i, r := range results {
		out[i] = r.ScoredRecord
	}
	return out, nil
}

// MultiConceptSearch returns records whose vector is within the similarity
// threshold of every concept, ordered by mean distance.
func (s *Store) MultiConceptSearch(ctx context.Context, concepts [][]float64, opts storage.MultiConceptOptions) ([]storage.ScoredRecord, error) {
	if len(concepts) < storage.MinConcepts || len(concepts) > storage.MaxConcepts {
		return nil, fmt.Errorf("%w: multi-concept search requires %d-%d concepts, got %d",
			storage.ErrInvalidArgument, storage.MinConcepts, storage.MaxConcepts, len(concepts))
	}
	for _, c := range concepts {
		if err := storage.CheckDimension(c, s.dim); err != nil {
			return nil, err
		}
	}
	if !s.vectors.Available() {
		return nil, storage.ErrVectorUnavailable
	}
	opts.Normalize()

	where := archivedFilter(opts.IncludeArchived, []string{`embedding_status = 'success'`})
	var args []any
	if opts.SpecFolder != "" {
		where = append(where, `spec_folder = ?`)
		args = append(args, opts.SpecFolder)
	}
	ids, err := s.candidateIDs(ctx, where, args)
	if err != nil {
		return nil, s.wrap("multi-concept search", 0, "", err)
	}

	maxDist := storage.MaxDistance(opts.MinSimilarity)
	perConcept := make([]map[int64]float64, len(concepts))
	for i, c := range concepts {
		if perConcept[i], err = s.vectors.Distances(ctx, s.db, c, ids); err != nil {
			return nil, s.wrap("multi-concept search", 0, "", err)
		}
		// Narrow the candidate set as concepts are applied.
		next := ids[:0:0]
		for _, id := range ids {
			if d, ok := perConcept[i][id]; ok && d <= maxDist {
				next = append(next, id)
			}
		}
		ids = next
	}

	type ranked struct {
		id   int64
		avg  float64
		sims []float64
	}
	matches := make([]ranked, 0, len(ids))
	for _, id := range ids {
		r := ranked{id: id, sims: make([]float64, len(concepts))}
		for i := range concepts {
			d := perConcept[i][id]
			r.avg += d
			r.sims[i] = storage.SimilarityFromDistance(d)
		}
		r.avg /= float64(len(concepts))
		matches = append(matches, r)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].avg < matches[j].avg })
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	keep := make([]int64, len(matches))
	for i, m := range matches {
		keep[i] = m.id
	}
	recs, err := s.loadRecords(ctx, keep)
	if err != nil {
		return nil, err
	}
	out := make([]storage.ScoredRecord, 0, len(matches))
	for _, m := range matches {
		rec, ok := recs[m.id]
		if !ok {
			continue
		}
		var sum float64
		for _, v := range m.sims {
			sum += v
		}
		out = append(out, storage.ScoredRecord{
			MemoryRecord:        *rec,
			Similarity:          storage.SimilarityFromDistance(m.avg),
			ConceptSimilarities: m.sims,
			AvgSimilarity:       storage.Round2(sum / float64(len(m.sims))),
		})
	}
	return out, nil
}

// Keyword scoring weights.
const (
	keywordHit          = 1.0
	keywordTitleBonus   = 2.0
	keywordTriggerBonus = 1.5
	keywordMinTermLen   = 2
)

// KeywordTerms lower-cases query and splits it into terms of at least two
// characters.
func KeywordTerms(query string) []string {
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if len(t) >= keywordMinTermLen {
			terms = append(terms, t)
		}
	}
	return terms
}

// KeywordScore scores rec against terms: one point per term found anywhere
// in title, triggers, folder or path, plus bonuses for title and trigger
// hits, scaled by (0.5 + importance weight).
func KeywordScore(rec *types.MemoryRecord, terms []string) float64 {
	title := strings.ToLower(rec.Title)
	triggers := strings.ToLower(strings.Join(rec.TriggerPhrases, " "))
	text := strings.Join([]string{title, triggers, strings.ToLower(rec.SpecFolder), strings.ToLower(rec.FilePath)}, " ")

	var score float64
	for _, term := range terms {
		if !strings.Contains(text, term) {
			continue
		}
		score += keywordHit
		if strings.Contains(title, term) {
			score += keywordTitleBonus
		}
		if strings.Contains(triggers, term) {
			score += keywordTriggerBonus
		}
	}
	return score * (0.5 + rec.ImportanceWeight)
}

// KeywordSearch scores every record against the query terms. It does not
// need vectors and serves as the fallback in deferred-indexing mode.
func (s *Store) KeywordSearch(ctx context.Context, query string, opts storage.KeywordOptions) ([]storage.ScoredRecord, error) {
	opts.Normalize()
	terms := KeywordTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	where := archivedFilter(opts.IncludeArchived, nil)
	var args []any
	if opts.SpecFolder != "" {
		where = append(where, `spec_folder = ?`)
		args = append(args, opts.SpecFolder)
	}
	q := `SELECT ` + recordColumns + ` FROM memory_index`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY importance_weight DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("keyword search", 0, "", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, s.wrap("keyword search", 0, "", err)
	}

	var out []storage.ScoredRecord
	for _, rec := range recs {
		if score := KeywordScore(rec, terms); score > 0 {
			out = append(out, storage.ScoredRecord{MemoryRecord: *rec, KeywordScore: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].KeywordScore > out[j].KeywordScore })
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ConstitutionalRows returns up to MaxConstitutionalRows embedded,
// unarchived constitutional records, strongest first. They report a
// similarity of 100.
func (s *Store) ConstitutionalRows(ctx context.Context, specFolder string) ([]storage.ScoredRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM memory_index
		WHERE importance_tier = 'constitutional'
		  AND embedding_status = 'success'
		  AND (is_archived IS NULL OR is_archived = 0)`
	var args []any
	if specFolder != "" {
		q += ` AND spec_folder = ?`
		args = append(args, specFolder)
	}
	q += ` ORDER BY importance_weight DESC, created_at DESC LIMIT ?`
	args = append(args, storage.MaxConstitutionalRows)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("constitutional rows", 0, specFolder, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, s.wrap("constitutional rows", 0, specFolder, err)
	}
	out := make([]storage.ScoredRecord, len(recs))
	for i, rec := range recs {
		out[i] = storage.ScoredRecord{MemoryRecord: *rec, Similarity: 100, EffectiveImportance: 1}
	}
	return out, nil
}
