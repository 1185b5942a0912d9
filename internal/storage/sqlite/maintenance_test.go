package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memindex/internal/backup"
	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

func TestVerifyIntegrityFindsOrphansAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	healthy := mustUpsert(t, s, ingest("f", "/f/a.md", "A"), e1)
	missing := mustUpsert(t, s, ingest("f", "/f/b.md", "B"), e2)
	require.NoError(t, s.Vectors().Delete(ctx, s.DB(), missing))
	require.NoError(t, s.Vectors().Put(ctx, s.DB(), 500, e3))

	report, err := s.VerifyIntegrity(ctx, storage.IntegrityOptions{SkipFileCheck: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalMemories)
	assert.Equal(t, 2, report.TotalVectors)
	assert.Equal(t, []int64{500}, report.OrphanedVectorIDs)
	assert.Equal(t, []int64{missing}, report.MissingVectorIDs)
	assert.False(t, report.IsConsistent)

	var violation *storage.IntegrityViolationError
	require.True(t, errors.As(report.Violation(), &violation))
	assert.Equal(t, []int64{500}, violation.OrphanedVectors)

	report, err = s.VerifyIntegrity(ctx, storage.IntegrityOptions{SkipFileCheck: true, AutoClean: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleaned)
	assert.Equal(t, 0, report.OrphanedVectors)
	assert.Equal(t, 1, report.MissingVectors, "missing vectors are never healed")
	assert.False(t, report.IsConsistent)

	require.True(t, errors.As(report.Violation(), &violation))
	assert.Empty(t, violation.OrphanedVectors)
	assert.Equal(t, []int64{missing}, violation.MissingVectors)

	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM vec_memories`))
	rec, err := s.Get(ctx, healthy)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingSuccess, rec.EmbeddingStatus)
}

func TestVerifyIntegrityReportsMissingFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	present := filepath.Join(t.TempDir(), "present.md")
	require.NoError(t, os.WriteFile(present, []byte("# here\n"), 0o644))
	mustUpsert(t, s, ingest("f", present, "Present"), e1)
	gone := mustUpsert(t, s, ingest("f", "/nonexistent/gone.md", "Gone"), e2)

	report, err := s.VerifyIntegrity(ctx, storage.IntegrityOptions{})
	require.NoError(t, err)
	require.Len(t, report.OrphanedFiles, 1)
	assert.Equal(t, gone, report.OrphanedFiles[0].ID)
	assert.False(t, report.IsConsistent)
	assert.NoError(t, report.Violation(), "missing files are not a vector violation")
}

func TestFindCleanupCandidates(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, withClock(clock))
	ctx := context.Background()

	never := mustUpsert(t, s, ingest("f", "/f/never.md", "Never read"), nil)

	busy := mustUpsert(t, s, ingest("f", "/f/busy.md", "Busy"), nil)
	for i := 0; i < 5; i++ {
		_, err := s.RecordAccess(ctx, busy)
		require.NoError(t, err)
	}
	_, err := s.UpdateConfidence(ctx, busy, 0.9)
	require.NoError(t, err)

	weak := mustUpsert(t, s, ingest("f", "/f/weak.md", ""), nil)
	_, err = s.RecordAccess(ctx, weak)
	require.NoError(t, err)
	_, err = s.UpdateConfidence(ctx, weak, 0.3)
	require.NoError(t, err)

	got, err := s.FindCleanupCandidates(ctx, storage.CleanupOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, never, got[0].ID)
	assert.Equal(t, []string{"accessed 0 times"}, got[0].Reasons)
	assert.Equal(t, "today", got[0].Age)

	assert.Equal(t, weak, got[1].ID)
	assert.Equal(t, "Untitled", got[1].Title)
	assert.Equal(t, []string{"accessed 1 time", "low importance (30%)"}, got[1].Reasons)

	clock.Advance(100 * 24 * time.Hour)
	got, err = s.FindCleanupCandidates(ctx, storage.CleanupOptions{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	last := got[2]
	assert.Equal(t, busy, last.ID)
	assert.Equal(t, []string{"created 3 months ago"}, last.Reasons)

	got, err = s.FindCleanupCandidates(ctx, storage.CleanupOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "today"},
		{day, "yesterday"},
		{3 * day, "3 days ago"},
		{8 * day, "1 week ago"},
		{21 * day, "3 weeks ago"},
		{45 * day, "1 month ago"},
		{200 * day, "6 months ago"},
		{400 * day, "1 year ago"},
		{800 * day, "2 years ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAge(now.Add(-tt.ago), now), "ago=%v", tt.ago)
	}
	assert.Equal(t, "never", FormatAge(time.Time{}, now))
}

func TestExpireTemporary(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, withClock(clock))
	ctx := context.Background()

	tmp := ingest("f", "/f/scratch.md", "Scratch")
	tmp.ImportanceTier = types.TierTemporary
	tmpID := mustUpsert(t, s, tmp, e1)
	keep := mustUpsert(t, s, ingest("f", "/f/keep.md", "Keep"), e2)

	n, err := s.ExpireTemporary(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(8 * 24 * time.Hour)
	n, err = s.ExpireTemporary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.Get(ctx, tmpID)
	require.NoError(t, err)
	assert.Nil(t, rec)
	rec, err = s.Get(ctx, keep)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestFileStateAndMtimes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.StoredFileState(ctx, "/f/unknown.md")
	require.NoError(t, err)
	assert.Nil(t, st)

	a := mustUpsert(t, s, ingest("f", "/f/a.md", "A"), e1)
	mustUpsert(t, s, ingest("g", "/g/b.md", "B"), nil)

	st, err = s.StoredFileState(ctx, "/f/a.md")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, a, st.ID)
	assert.Nil(t, st.FileMtimeMs)
	assert.Equal(t, types.EmbeddingSuccess, st.EmbeddingStatus)

	ok, err := s.UpdateFileMtime(ctx, "/f/a.md", 1234)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UpdateFileMtime(ctx, "/f/none.md", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	st, err = s.StoredFileState(ctx, "/f/a.md")
	require.NoError(t, err)
	require.NotNil(t, st.FileMtimeMs)
	assert.Equal(t, int64(1234), *st.FileMtimeMs)

	n, err := s.UpdateFileMtimes(ctx, []storage.FileMtime{
		{Path: "/f/a.md", MtimeMs: 2000},
		{Path: "/g/b.md", MtimeMs: 3000},
		{Path: "/missing.md", MtimeMs: 4000},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err = s.StoredFileState(ctx, "/g/b.md")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), *st.FileMtimeMs)
	assert.Equal(t, types.EmbeddingPending, st.EmbeddingStatus)

	paths, err := s.IndexedPaths(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"/f/a.md", "/g/b.md"}, paths)
	paths, err = s.IndexedPaths(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []string{"/g/b.md"}, paths)
}

func TestSnapshot(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(t, withClock(clock))
	ctx := context.Background()
	mustUpsert(t, s, ingest("f", "/f/a.md", "A"), e1)

	dir := filepath.Join(t.TempDir(), "snapshots")
	path, err := s.Snapshot(ctx, dir, "pre-cleanup")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, backup.FileName("pre-cleanup", clock.Now())), path)
	require.NoError(t, backup.Verify(ctx, path))

	_, err = s.Snapshot(ctx, dir, "pre-cleanup")
	assert.Error(t, err, "an existing snapshot is never overwritten")

	snaps, err := backup.List(dir)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "pre-cleanup", snaps[0].Label)

	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, backup.Restore(ctx, path, restored))
	r, err := Open(ctx, Options{Path: restored, Dimension: testDim})
	require.NoError(t, err)
	defer r.Close()
	st, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Vectors)
}

func TestCausalTraversal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := mustUpsert(t, s, ingest("f", "/f/root.md", "Root"), nil)
	cause := mustUpsert(t, s, ingest("f", "/f/cause.md", "Cause"), nil)
	effect := mustUpsert(t, s, ingest("f", "/f/effect.md", "Effect"), nil)
	far := mustUpsert(t, s, ingest("f", "/f/far.md", "Far"), nil)
	unrelated := mustUpsert(t, s, ingest("f", "/f/x.md", "X"), nil)

	add := func(src, dst int64, rel types.CausalRelation) {
		_, err := s.AddCausalEdge(ctx, types.CausalEdge{SourceID: src, TargetID: dst, Relation: rel})
		require.NoError(t, err)
	}
	add(cause, root, types.RelationCaused)
	add(root, effect, types.RelationEnabled)
	add(effect, far, types.RelationSupports)

	hits, err := s.TraverseCausal(ctx, root, 0, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 1, hits[0].Hops)
	assert.Equal(t, 1, hits[1].Hops)
	assert.ElementsMatch(t, []int64{cause, effect}, []int64{hits[0].Record.ID, hits[1].Record.ID})
	assert.Equal(t, far, hits[2].Record.ID)
	assert.Equal(t, 2, hits[2].Hops)
	assert.Equal(t, []types.CausalRelation{types.RelationSupports}, hits[2].Relations)

	hits, err = s.TraverseCausal(ctx, root, 1, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.TraverseCausal(ctx, unrelated, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAddCausalEdgeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustUpsert(t, s, ingest("f", "/f/a.md", "A"), nil)
	b := mustUpsert(t, s, ingest("f", "/f/b.md", "B"), nil)

	_, err := s.AddCausalEdge(ctx, types.CausalEdge{SourceID: a, TargetID: b, Relation: "blames"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = s.AddCausalEdge(ctx, types.CausalEdge{SourceID: a, TargetID: a, Relation: types.RelationCaused})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = s.AddCausalEdge(ctx, types.CausalEdge{SourceID: a, TargetID: 999, Relation: types.RelationCaused})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	id1, err := s.AddCausalEdge(ctx, types.CausalEdge{SourceID: a, TargetID: b, Relation: types.RelationCaused, Strength: 0.4})
	require.NoError(t, err)
	id2, err := s.AddCausalEdge(ctx, types.CausalEdge{SourceID: a, TargetID: b, Relation: types.RelationCaused, Strength: 0.8, Evidence: "log line"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	edges, err := s.CausalEdges(ctx, b)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 0.8, edges[0].Strength)
	assert.Equal(t, "log line", edges[0].Evidence)
}
