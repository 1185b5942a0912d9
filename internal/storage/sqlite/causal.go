package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// CausalHit is a record reached from a start record through causal edges.
type CausalHit struct {
	Record *types.MemoryRecord
	Hops   int

	// Relations lists the relations of the edges that reached the record at
	// the given hop distance.
	Relations []types.CausalRelation
}

// AddCausalEdge records a directed relation between two existing records.
// Adding the same (source, target, relation) again replaces its strength
// and evidence.
func (s *Store) AddCausalEdge(ctx context.Context, edge types.CausalEdge) (int64, error) {
	if !edge.Relation.IsValid() {
		return 0, fmt.Errorf("sqlite: %w: unknown relation %q", storage.ErrInvalidInput, edge.Relation)
	}
	if edge.SourceID == edge.TargetID {
		return 0, fmt.Errorf("sqlite: %w: edge from %d to itself", storage.ErrInvalidInput, edge.SourceID)
	}
	if edge.Strength == 0 {
		edge.Strength = 1
	}
	if edge.Strength < 0 || edge.Strength > 1 {
		return 0, fmt.Errorf("sqlite: %w: strength %v outside [0, 1]", storage.ErrInvalidInput, edge.Strength)
	}
	for _, id := range []int64{edge.SourceID, edge.TargetID} {
		rec, err := s.get(ctx, s.db, id)
		if err != nil {
			return 0, s.wrap("add causal edge", id, "", err)
		}
		if rec == nil {
			return 0, fmt.Errorf("sqlite: record %d: %w", id, storage.ErrNotFound)
		}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO causal_edges (source_id, target_id, relation, strength, evidence, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation)
		DO UPDATE SET strength = excluded.strength, evidence = excluded.evidence
		RETURNING id`,
		edge.SourceID, edge.TargetID, string(edge.Relation), edge.Strength,
		nullableString(edge.Evidence), formatTime(s.now())).Scan(&id)
	if err != nil {
		return 0, s.wrap("add causal edge", edge.SourceID, "", err)
	}
	return id, nil
}

// CausalEdges returns the edges touching id in either direction.
func (s *Store) CausalEdges(ctx context.Context, id int64) ([]types.CausalEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relation, strength, evidence, extracted_at
		FROM causal_edges
		WHERE source_id = ? OR target_id = ?
		ORDER BY strength DESC, id ASC`, id, id)
	if err != nil {
		return nil, s.wrap("causal edges", id, "", err)
	}
	defer rows.Close()

	var out []types.CausalEdge
	for rows.Next() {
		var (
			e        types.CausalEdge
			relation string
			evidence sql.NullString
			at       sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &relation, &e.Strength, &evidence, &at); err != nil {
			return nil, err
		}
		e.Relation = types.CausalRelation(relation)
		e.Evidence = evidence.String
		e.ExtractedAt = parseTime(at.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

// TraverseCausal walks causal edges breadth-first from startID, in both
// directions, and returns up to limit records reachable within maxHops.
// Results are ordered by hop distance, then by importance weight.
func (s *Store) TraverseCausal(ctx context.Context, startID int64, maxHops, limit int) ([]CausalHit, error) {
	if maxHops < 1 {
		maxHops = 2
	}
	if limit < 1 {
		limit = 10
	}

	type found struct {
		hops      int
		relations []types.CausalRelation
	}
	visited := map[int64]bool{startID: true}
	reached := make(map[int64]*found)
	frontier := []int64{startID}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []int64
		for _, id := range frontier {
			edges, err := s.CausalEdges(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				other := e.TargetID
				if other == id {
					other = e.SourceID
				}
				if f, ok := reached[other]; ok && f.hops == hop {
					f.relations = append(f.relations, e.Relation)
					continue
				}
				if visited[other] {
					continue
				}
				visited[other] = true
				reached[other] = &found{hops: hop, relations: []types.CausalRelation{e.Relation}}
				next = append(next, other)
			}
		}
		frontier = next
	}
	if len(reached) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(reached))
	for id := range reached {
		ids = append(ids, id)
	}
	recs, err := s.loadRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]CausalHit, 0, len(recs))
	for id, rec := range recs {
		f := reached[id]
		hits = append(hits, CausalHit{Record: rec, Hops: f.hops, Relations: f.relations})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Hops != hits[j].Hops {
			return hits[i].Hops < hits[j].Hops
		}
		if hits[i].Record.ImportanceWeight != hits[j].Record.ImportanceWeight {
			return hits[i].Record.ImportanceWeight > hits[j].Record.ImportanceWeight
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
