package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/scrypster/memindex/internal/storage"
)

// VectorTable is the built-in VectorIndex: one little-endian float64 BLOB
// per record in vec_memories, keyed by the record id. Distances are computed
// in Go over the requested ids.
type VectorTable struct {
	dim       int
	available bool
}

var _ storage.VectorIndex = (*VectorTable)(nil)

// NewVectorTable returns a vector table of the given dimension. With
// available=false every vector operation is skipped by the store.
func NewVectorTable(dim int, available bool) *VectorTable {
	return &VectorTable{dim: dim, available: available}
}

// Available reports whether vector operations are enabled.
func (v *VectorTable) Available() bool { return v.available }

// Dimension returns the embedding length.
func (v *VectorTable) Dimension() int { return v.dim }

// Put replaces the vector for id.
func (v *VectorTable) Put(ctx context.Context, q storage.Querier, id int64, vec []float64) error {
	if err := storage.CheckDimension(vec, v.dim); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_memories (rowid, embedding) VALUES (?, ?)`, id, encodeVector(vec))
	if err != nil {
		return fmt.Errorf("sqlite: failed to store vector %d: %w", id, err)
	}
	return nil
}

// Delete removes the vector for id.
func (v *VectorTable) Delete(ctx context.Context, q storage.Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM vec_memories WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("sqlite: failed to delete vector %d: %w", id, err)
	}
	return nil
}

// Distances returns the cosine distance from query to each stored vector in ids.
func (v *VectorTable) Distances(ctx context.Context, q storage.Querier, query []float64, ids []int64) (map[int64]float64, error) {
	if err := storage.CheckDimension(query, v.dim); err != nil {
		return nil, err
	}
	out := make(map[int64]float64, len(ids))
	// Chunked to stay under SQLite's bound-parameter limit.
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		part := ids[start:end]

		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		rows, err := q.QueryContext(ctx,
			`SELECT rowid, embedding FROM vec_memories WHERE rowid IN (`+placeholders(len(part))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to load vectors: %w", err)
		}
		for rows.Next() {
			var (
				id  int64
				buf []byte
			)
			if err := rows.Scan(&id, &buf); err != nil {
				rows.Close()
				return nil, err
			}
			vec, err := decodeVector(buf, v.dim)
			if err != nil {
				// A vector of the wrong size cannot match; report it via integrity checks.
				continue
			}
			out[id] = CosineDistance(query, vec)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IDs lists every stored vector id.
func (v *VectorTable) IDs(ctx context.Context, q storage.Querier) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT rowid FROM vec_memories ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list vectors: %w", err)
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

// Count returns the number of stored vectors.
func (v *VectorTable) Count(ctx context.Context, q storage.Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count vectors: %w", err)
	}
	return n, nil
}

// CosineDistance returns 1 - cosine similarity, in [0, 2]. Zero vectors are
// at distance 1 from everything.
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	return math.Max(0, math.Min(2, d))
}

// encodeVector converts a float64 slice to little-endian bytes.
func encodeVector(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, f := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// decodeVector converts little-endian bytes back to a float64 slice and
// validates the length against dim.
func decodeVector(buf []byte, dim int) ([]float64, error) {
	if len(buf) != dim*8 {
		return nil, &storage.DimensionMismatchError{Expected: dim, Actual: len(buf) / 8}
	}
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
