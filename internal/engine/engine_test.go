package engine_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memindex/internal/engine"
	"github.com/scrypster/memindex/internal/scoring"
	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/internal/storage/sqlite"
	"github.com/scrypster/memindex/pkg/types"
)

const testDim = 4

var (
	e1 = []float64{1, 0, 0, 0}
	e2 = []float64{0, 1, 0, 0}
)

// fakeEmbedder maps known texts to vectors; anything else fails.
type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float64
	err   error
	calls int
}

func newFakeEmbedder(pairs map[string][]float64) *fakeEmbedder {
	return &fakeEmbedder{vecs: pairs}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newStore(t *testing.T, mods ...func(*sqlite.Options)) *sqlite.Store {
	t.Helper()
	opts := sqlite.Options{
		Path:           filepath.Join(t.TempDir(), "memindex.db"),
		Dimension:      testDim,
		EmbeddingModel: "test-model",
	}
	for _, m := range mods {
		m(&opts)
	}
	s, err := sqlite.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEngine(t *testing.T, store *sqlite.Store, emb engine.Embedder) *engine.Engine {
	t.Helper()
	opts := engine.Options{}
	if emb != nil {
		opts.Embedder = emb
	}
	e, err := engine.New(store, opts)
	require.NoError(t, err)
	return e
}

func ingest(folder, path, title string) *types.IngestRecord {
	return &types.IngestRecord{SpecFolder: folder, FilePath: path, Title: title}
}

func constitutional(folder, path, title string) *types.IngestRecord {
	rec := ingest(folder, path, title)
	rec.ImportanceTier = types.TierConstitutional
	return rec
}

func mustIndex(t *testing.T, s *sqlite.Store, rec *types.IngestRecord, vec []float64) int64 {
	t.Helper()
	id, err := s.IndexWithEmbedding(context.Background(), rec, vec)
	require.NoError(t, err)
	return id
}

func resultIDs(rs []engine.Result) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := engine.New(nil, engine.Options{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSearch_PrependsConstitutional(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	c := mustIndex(t, s, constitutional("specs/a", "/m/rules.md", "Always rules"), e1)
	a := mustIndex(t, s, ingest("specs/a", "/m/a.md", "Auth decision"), e1)
	b := mustIndex(t, s, ingest("specs/a", "/m/b.md", "Billing notes"), e2)
	e := newEngine(t, s, newFakeEmbedder(map[string][]float64{"auth": e1}))

	res, err := e.Search(ctx, "auth", 3, engine.SearchOptions{})
	require.NoError(t, err)
	require.Equal(t, []int64{c, a, b}, resultIDs(res))
	assert.Equal(t, engine.MethodConstitutional, res[0].SearchMethod)
	assert.True(t, res[0].IsConstitutional)
	assert.Equal(t, 100.0, res[0].Similarity)
	assert.Equal(t, engine.MethodVector, res[1].SearchMethod)
	assert.Equal(t, 100.0, res[1].Similarity)
	assert.Equal(t, 50.0, res[2].Similarity)
	for i, r := range res {
		assert.Equal(t, i+1, r.Rank)
	}

	// Constitutional rows take their share of the limit.
	res, err = e.Search(ctx, "auth", 2, engine.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{c, a}, resultIDs(res))

	res, err = e.Search(ctx, "auth", 3, engine.SearchOptions{MinSimilarity: 60})
	require.NoError(t, err)
	assert.Equal(t, []int64{c, a}, resultIDs(res))

	res, err = e.Search(ctx, "auth", 3, engine.SearchOptions{ExcludeConstitutional: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, resultIDs(res))
}

func TestSearch_KeepsOneRegularResultWhenConstitutionalFillsLimit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	c1 := mustIndex(t, s, constitutional("specs/a", "/c/a.md", "Always rules"), e1)
	c2 := mustIndex(t, s, constitutional("specs/a", "/c/b.md", "Never rules"), e2)
	a := mustIndex(t, s, ingest("specs/a", "/n/a.md", "Auth decision"), e1)
	mustIndex(t, s, ingest("specs/a", "/n/b.md", "Billing notes"), e2)
	e := newEngine(t, s, newFakeEmbedder(map[string][]float64{"auth": e1}))

	res, err := e.Search(ctx, "auth", 2, engine.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.ElementsMatch(t, []int64{c1, c2}, resultIDs(res[:2]))
	assert.Equal(t, a, res[2].ID)
	assert.Equal(t, engine.MethodVector, res[2].SearchMethod)
	assert.Equal(t, 3, res[2].Rank)
}

func TestSearch_ConstitutionalTierFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	c := mustIndex(t, s, constitutional("specs/a", "/m/rules.md", "Always rules"), e1)
	mustIndex(t, s, ingest("specs/a", "/m/a.md", "Auth decision"), e1)
	e := newEngine(t, s, newFakeEmbedder(map[string][]float64{"auth": e1}))

	res, err := e.Search(ctx, "auth", 5, engine.SearchOptions{Tier: types.TierConstitutional})
	require.NoError(t, err)
	require.Equal(t, []int64{c}, resultIDs(res))
	assert.Equal(t, engine.MethodVector, res[0].SearchMethod, "found by the tier filter, not prepended")
}

func TestSearch_OtherTierStillPrependsConstitutional(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	c := mustIndex(t, s, constitutional("specs/a", "/m/rules.md", "Always rules"), e1)
	dep := ingest("specs/a", "/m/old.md", "Old auth")
	dep.ImportanceTier = types.TierDeprecated
	d := mustIndex(t, s, dep, e1)
	e := newEngine(t, s, newFakeEmbedder(map[string][]float64{"auth": e1}))

	res, err := e.Search(ctx, "auth", 5, engine.SearchOptions{Tier: types.TierDeprecated})
	require.NoError(t, err)
	assert.Equal(t, []int64{c, d}, resultIDs(res))
}

func TestSearch_KeywordFallbackOnEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := mustIndex(t, s, ingest("specs/a", "/m/a.md", "Auth decision"), e1)
	mustIndex(t, s, ingest("specs/a", "/m/b.md", "Billing notes"), e2)
	emb := newFakeEmbedder(nil)
	emb.err = errors.New("connection refused")
	e := newEngine(t, s, emb)

	res, err := e.Search(ctx, "auth", 5, engine.SearchOptions{})
	require.NoError(t, err)
	require.Equal(t, []int64{a}, resultIDs(res))
	assert.Equal(t, engine.MethodKeyword, res[0].SearchMethod)
	// (1 hit + 2 title bonus) * (0.5 + 0.5) = 3, scaled by 20.
	assert.Equal(t, 60.0, res[0].Similarity)
}

func TestSearch_DeferredModeUsesKeywords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, func(o *sqlite.Options) { o.DisableVectors = true })
	emb := newFakeEmbedder(map[string][]float64{"auth": e1})
	e := newEngine(t, s, emb)

	id, err := e.Save(ctx, &types.IngestRecord{SpecFolder: "specs/a", FilePath: "/m/a.md", Title: "Auth decision", ContentText: "auth"})
	require.NoError(t, err)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingPending, rec.EmbeddingStatus)

	res, err := e.Search(ctx, "auth", 5, engine.SearchOptions{})
	require.NoError(t, err)
	require.Equal(t, []int64{id}, resultIDs(res))
	assert.Equal(t, engine.MethodKeyword, res[0].SearchMethod)
	assert.Zero(t, emb.Calls(), "no embedding is attempted without vectors")
}

func TestSearch_EmptyQuery(t *testing.T) {
	e := newEngine(t, newStore(t), nil)
	_, err := e.Search(context.Background(), "  ", 5, engine.SearchOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSearch_EnrichesFromSourceFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "auth-notes.md")
	content := "---\ntags: [security, auth]\ndate: 2025-02-01\n---\n# Token Rotation\n\nTokens rotate every hour. See #ops notes.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s := newStore(t)
	id := mustIndex(t, s, ingest("specs/a", path, ""), e1)
	e := newEngine(t, s, nil)

	res, err := e.Search(ctx, "auth", 5, engine.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	r := res[0]
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "Token Rotation", r.Title)
	assert.Equal(t, []string{"security", "auth", "ops"}, r.Tags)
	assert.Equal(t, "2025-02-01", r.Date)
	assert.Equal(t, "Tokens rotate every hour. See #ops notes.", r.Snippet)
	// Path-only hit: 1 * (0.5 + 0.5) * 20.
	assert.Equal(t, 20.0, r.Similarity)
}

func TestSearch_MissingSourceFallsBackToMetadata(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustIndex(t, s, ingest("specs/a", "/does/not/exist.md", "Auth decision"), e1)
	e := newEngine(t, s, nil)

	res, err := e.KeywordSearch(ctx, "auth", 0, engine.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Auth decision", res[0].Title)
	assert.NotEmpty(t, res[0].Date, "creation date is used")
	assert.Empty(t, res[0].Snippet)
}

func TestCachedSearch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := mustIndex(t, s, ingest("specs/a", "/m/a.md", "Auth decision"), e1)
	emb := newFakeEmbedder(map[string][]float64{"auth": e1})
	e := newEngine(t, s, emb)

	first, err := e.CachedSearch(ctx, "auth", 5, engine.SearchOptions{})
	require.NoError(t, err)
	require.Equal(t, []int64{a}, resultIDs(first))

	first[0].Title = "mutated by caller"
	second, err := e.CachedSearch(ctx, "auth", 5, engine.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Auth decision", second[0].Title)
	assert.Equal(t, 1, emb.Calls())

	// Access tracking does not invalidate; other mutations do.
	_, err = e.RecordAccess(ctx, a)
	require.NoError(t, err)
	_, err = e.CachedSearch(ctx, "auth", 5, engine.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.Calls())

	_, err = e.UpdateConfidence(ctx, a, 0.9)
	require.NoError(t, err)
	_, err = e.CachedSearch(ctx, "auth", 5, engine.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, emb.Calls())

	// Different options are a different key.
	_, err = e.CachedSearch(ctx, "auth", 5, engine.SearchOptions{SpecFolder: "specs/a"})
	require.NoError(t, err)
	assert.Equal(t, 3, emb.Calls())

	assert.Equal(t, 1, e.ClearSearchCache("specs/a"))
	assert.Equal(t, 1, e.ClearSearchCache(""))
}

func TestSearch_ConstitutionalCacheFollowsDeletes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	c := mustIndex(t, s, constitutional("specs/a", "/m/rules.md", "Always rules"), e1)
	e := newEngine(t, s, nil)

	rows, err := e.ConstitutionalMemories(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	ok, err := e.DeleteMemory(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)

	rows, err = e.ConstitutionalMemories(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConstitutionalMemories_TokenBudget(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := 0; i < 3; i++ {
		mustIndex(t, s, constitutional("specs/a", fmt.Sprintf("/m/rule%d.md", i), fmt.Sprintf("Rule %d", i)), e1)
	}
	e := newEngine(t, s, nil)

	rows, err := e.ConstitutionalMemories(ctx, "specs/a", 200)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = e.ConstitutionalMemories(ctx, "specs/a", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = e.ConstitutionalMemories(ctx, "specs/other", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEnhancedSearch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	vecs := [][]float64{
		{1, 0, 0, 0},
		{1, 0.2, 0, 0},
		{1, 0.5, 0, 0},
		{1, 1, 0, 0},
		{0.2, 1, 0, 0},
	}
	for i, v := range vecs {
		folder := "specs/a"
		if i%2 == 1 {
			folder = "specs/b"
		}
		mustIndex(t, s, ingest(folder, fmt.Sprintf("/m/%d.md", i), fmt.Sprintf("Note %d", i)), v)
	}
	e := newEngine(t, s, newFakeEmbedder(map[string][]float64{"notes": e1}))

	ranked, err := e.EnhancedSearch(ctx, "notes", 3, engine.EnhancedOptions{NoDiversity: true})
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	for i, r := range ranked {
		assert.Equal(t, i+1, r.Rank)
		assert.Positive(t, r.SmartScore)
		if i > 0 {
			assert.GreaterOrEqual(t, ranked[i-1].SmartScore, r.SmartScore)
		}
	}

	diverse, err := e.EnhancedSearch(ctx, "notes", 4, engine.EnhancedOptions{})
	require.NoError(t, err)
	require.Len(t, diverse, 4)
	assert.Equal(t, ranked[0].ID, diverse[0].ID, "the best hit stays first")
	assert.NotEqual(t, diverse[0].SpecFolder, diverse[1].SpecFolder, "the runner-up comes from another folder")
}

func TestMultiConceptSearch_Bounds(t *testing.T) {
	e := newEngine(t, newStore(t), nil)
	ctx := context.Background()

	_, err := e.MultiConceptSearch(ctx, []engine.Concept{engine.TextConcept("one")}, storage.MultiConceptOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)

	six := make([]engine.Concept, 6)
	for i := range six {
		six[i] = engine.TextConcept(fmt.Sprint("c", i))
	}
	_, err = e.MultiConceptSearch(ctx, six, storage.MultiConceptOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)

	_, err = e.MultiConceptSearch(ctx, []engine.Concept{engine.TextConcept("a"), {}}, storage.MultiConceptOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMultiConceptSearch_Vectors(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustIndex(t, s, ingest("specs/a", "/m/x.md", "Only first"), e1)
	mustIndex(t, s, ingest("specs/a", "/m/y.md", "Only second"), e2)
	both := mustIndex(t, s, ingest("specs/a", "/m/z.md", "Both"), []float64{1, 1, 0, 0})
	e := newEngine(t, s, newFakeEmbedder(map[string][]float64{"first": e1}))

	res, err := e.MultiConceptSearch(ctx,
		[]engine.Concept{engine.TextConcept("first"), engine.VectorConcept(e2)},
		storage.MultiConceptOptions{MinSimilarity: 60})
	require.NoError(t, err)
	require.Equal(t, []int64{both}, resultIDs(res))
	assert.Equal(t, engine.MethodVector, res[0].SearchMethod)
	assert.InDelta(t, 85.36, res[0].AvgSimilarity, 0.01)
	assert.Equal(t, res[0].AvgSimilarity, res[0].Similarity)
	assert.Len(t, res[0].ConceptSimilarities, 2)
}

func TestMultiConceptSearch_KeywordIntersection(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	both := mustIndex(t, s, ingest("specs/a", "/m/1.md", "Auth token rotation"), e1)
	mustIndex(t, s, ingest("specs/a", "/m/2.md", "Auth login"), e1)
	mustIndex(t, s, ingest("specs/a", "/m/3.md", "Token cache"), e1)
	emb := newFakeEmbedder(nil)
	emb.err = errors.New("provider timeout")
	e := newEngine(t, s, emb)

	res, err := e.MultiConceptSearch(ctx,
		[]engine.Concept{engine.TextConcept("auth"), engine.TextConcept("token")},
		storage.MultiConceptOptions{})
	require.NoError(t, err)
	require.Equal(t, []int64{both}, resultIDs(res))
	assert.Equal(t, engine.MethodKeyword, res[0].SearchMethod)
	// Keyword score 3 for a title hit at weight 0.5, scaled by 15.
	assert.Equal(t, 45.0, res[0].AvgSimilarity)
	assert.Equal(t, []float64{45, 45}, res[0].ConceptSimilarities)
}

func TestMultiConceptSearch_KeywordSimilarityCapped(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id := mustIndex(t, s, ingest("specs/a", "/m/1.md", "Auth token rotation schedule"), e1)
	emb := newFakeEmbedder(nil)
	emb.err = errors.New("provider timeout")
	e := newEngine(t, s, emb)

	res, err := e.MultiConceptSearch(ctx,
		[]engine.Concept{engine.TextConcept("auth token rotation"), engine.TextConcept("rotation schedule")},
		storage.MultiConceptOptions{})
	require.NoError(t, err)
	require.Equal(t, []int64{id}, resultIDs(res))
	// Three title hits score 9, which scales to 135 before the cap.
	assert.Equal(t, 100.0, res[0].AvgSimilarity)
	assert.Equal(t, []float64{100, 100}, res[0].ConceptSimilarities)
}

func TestMultiConceptSearch_DeferredMode(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, func(o *sqlite.Options) { o.DisableVectors = true })
	id, err := s.IndexDeferred(ctx, ingest("specs/a", "/m/1.md", "Auth token rotation"))
	require.NoError(t, err)
	e := newEngine(t, s, newFakeEmbedder(nil))

	res, err := e.MultiConceptSearch(ctx,
		[]engine.Concept{engine.TextConcept("auth"), engine.TextConcept("rotation")},
		storage.MultiConceptOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, resultIDs(res))

	// Vector-only concepts have nothing to intersect.
	res, err = e.MultiConceptSearch(ctx,
		[]engine.Concept{engine.VectorConcept(e1), engine.VectorConcept(e2)},
		storage.MultiConceptOptions{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestLearnFromSelection(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	rec := ingest("specs/a", "/m/a.md", "Auth decision")
	rec.TriggerPhrases = []string{"login"}
	id := mustIndex(t, s, rec, e1)
	e := newEngine(t, s, nil)

	ok, err := e.LearnFromSelection(ctx, "What about token rotation during 2024 login refresh", id)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"login", "token", "rotation", "refresh"}, got.TriggerPhrases)

	ok, err = e.LearnFromSelection(ctx, "token rotation", id)
	require.NoError(t, err)
	assert.False(t, ok, "nothing new to learn")

	ok, err = e.LearnFromSelection(ctx, "token", 9999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLearnFromSelection_RespectsTriggerCap(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	rec := ingest("specs/a", "/m/a.md", "Auth decision")
	for i := 0; i < types.MaxTriggerPhrases-1; i++ {
		rec.TriggerPhrases = append(rec.TriggerPhrases, fmt.Sprintf("phrase%d", i))
	}
	id := mustIndex(t, s, rec, e1)
	e := newEngine(t, s, nil)

	ok, err := e.LearnFromSelection(ctx, "alpha bravo charlie", id)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.TriggerPhrases, types.MaxTriggerPhrases)
	assert.Equal(t, "alpha", got.TriggerPhrases[types.MaxTriggerPhrases-1])

	ok, err = e.LearnFromSelection(ctx, "delta", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinkRelatedOnSave(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := mustIndex(t, s, ingest("specs/a", "/m/a.md", "Auth"), e1)
	near := mustIndex(t, s, ingest("specs/a", "/m/b.md", "Auth again"), []float64{1, 0.1, 0, 0})
	mustIndex(t, s, ingest("specs/a", "/m/c.md", "Billing"), e2)
	e := newEngine(t, s, newFakeEmbedder(map[string][]float64{"auth content": e1}))

	links, err := e.LinkRelatedOnSave(ctx, a, "auth content")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, near, links[0].ID)
	assert.GreaterOrEqual(t, links[0].Similarity, engine.RelatedMinSimilarity)

	related, err := s.GetRelatedMemories(ctx, a)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, near, related[0].ID)

	links, err = e.LinkRelatedOnSave(ctx, a, "   ")
	require.NoError(t, err)
	assert.Nil(t, links)
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	existing := mustIndex(t, s, ingest("specs/a", "/m/a.md", "Auth"), e1)
	emb := newFakeEmbedder(map[string][]float64{"auth body": e1})
	e := newEngine(t, s, emb)

	id, err := e.Save(ctx, &types.IngestRecord{SpecFolder: "specs/a", FilePath: "/m/new.md", Title: "New auth", ContentText: "auth body"})
	require.NoError(t, err)
	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingSuccess, rec.EmbeddingStatus)
	require.Len(t, rec.RelatedMemories, 1)
	assert.Equal(t, existing, rec.RelatedMemories[0].ID)

	// Unknown content cannot be embedded: the record is kept, deferred.
	id, err = e.Save(ctx, &types.IngestRecord{SpecFolder: "specs/a", FilePath: "/m/other.md", Title: "Other", ContentText: "unknown"})
	require.NoError(t, err)
	rec, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingPending, rec.EmbeddingStatus)
	assert.Contains(t, rec.FailureReason, "no vector")

	_, err = e.Save(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestLifecyclePassThroughs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := mustIndex(t, s, ingest("specs/a", "/m/a.md", "Auth"), e1)
	b := mustIndex(t, s, ingest("specs/a", "/m/b.md", "Billing"), e2)
	e := newEngine(t, s, nil)

	ok, err := e.UpdateEmbeddingStatus(ctx, a, types.EmbeddingRetry)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.UpdateConfidence(ctx, a, 1.5)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	res, err := e.DeleteMemories(ctx, []int64{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)

	ok, err = e.DeleteMemory(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReview(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := mustIndex(t, s, ingest("specs/a", "/m/a.md", "Auth"), e1)
	e := newEngine(t, s, nil)

	out, err := e.Review(ctx, a, scoring.GradeGood)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ReviewCount)

	rec, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ReviewCount)
	require.NotNil(t, rec.LastReview)
	assert.InDelta(t, out.Stability, rec.Stability, 1e-9)

	_, err = e.Review(ctx, 9999, scoring.GradeGood)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
