package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// seedParentWithChunk stores a parent, one chunk of it and an unrelated
// record linked to the parent by a causal edge.
func seedParentWithChunk(t *testing.T, s *Store) (parent, chunk, other int64) {
	t.Helper()
	parent = mustUpsert(t, s, ingest("f", "/f/big.md", "Big"), e1)

	rec := ingest("f", "/f/big.md", "Big part 1")
	rec.AnchorID = anchor("chunk-1")
	rec.ParentID = &parent
	chunk = mustUpsert(t, s, rec, e2)

	other = mustUpsert(t, s, ingest("f", "/f/other.md", "Other"), e3)
	_, err := s.AddCausalEdge(context.Background(), types.CausalEdge{
		SourceID: parent, TargetID: other, Relation: types.RelationCaused,
	})
	require.NoError(t, err)
	return parent, chunk, other
}

func TestDeleteCascadesWithoutOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent, chunk, other := seedParentWithChunk(t, s)

	ok, err := s.Delete(ctx, parent)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM memory_index`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM vec_memories`))
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM memory_history WHERE memory_id IN (?, ?)`, parent, chunk))
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM causal_edges`))

	remaining, err := s.Get(ctx, other)
	require.NoError(t, err)
	require.NotNil(t, remaining)

	report, err := s.VerifyIntegrity(ctx, storage.IntegrityOptions{SkipFileCheck: true})
	require.NoError(t, err)
	assert.True(t, report.IsConsistent)
	assert.Equal(t, 1, report.TotalVectors)
	assert.NoError(t, report.Violation())

	ok, err = s.Delete(ctx, parent)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteManyRollsBackOnMissingID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustUpsert(t, s, ingest("f", "/f/a.md", "A"), e1)

	var events int
	s.OnChange(func(storage.ChangeEvent) { events++ })

	res, err := s.DeleteMany(ctx, []int64{a, 999})
	require.Error(t, err)
	var batchErr *storage.BatchDeleteError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, []int64{999}, batchErr.FailedIDs)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, events)

	rec, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.NotNil(t, rec, "rolled-back batch must not delete anything")
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM vec_memories`))
}

func TestDeleteManyCountsCascadedChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent, chunk, other := seedParentWithChunk(t, s)

	var got []storage.ChangeEvent
	s.OnChange(func(ev storage.ChangeEvent) { got = append(got, ev) })

	res, err := s.DeleteMany(ctx, []int64{parent, chunk, other})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM memory_index`))
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM vec_memories`))

	require.Len(t, got, 1)
	assert.ElementsMatch(t, []int64{parent, chunk, other}, got[0].IDs)
}

func TestDeleteManyEmpty(t *testing.T) {
	s := newTestStore(t)
	res, err := s.DeleteMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, storage.DeleteManyResult{}, res)
}

func TestDeleteByIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := ingest("f", "/f/a.md", "A")
	rec.AnchorID = anchor("summary")
	id := mustUpsert(t, s, rec, e1)
	mustUpsert(t, s, ingest("f", "/f/a.md", "Whole file"), nil)

	ok, err := s.DeleteByIdentity(ctx, "f", "/f/a.md", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	kept, err := s.GetByIdentity(ctx, "f", "/f/a.md", anchor("summary"))
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, id, kept.ID)

	ok, err = s.DeleteByIdentity(ctx, "f", "/f/missing.md", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
