package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/memindex/pkg/types"
)

const testDim = 4

// testClock is a settable clock shared by a store and its test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestStore opens a file-backed store in a temp dir. mods adjust the
// options before opening.
func newTestStore(t *testing.T, mods ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		Path:           filepath.Join(t.TempDir(), "memindex.db"),
		Dimension:      testDim,
		EmbeddingModel: "test-model",
	}
	for _, m := range mods {
		m(&opts)
	}
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func withClock(c *testClock) func(*Options) {
	return func(o *Options) { o.Now = c.Now }
}

func ingest(folder, path, title string) *types.IngestRecord {
	return &types.IngestRecord{SpecFolder: folder, FilePath: path, Title: title}
}

func anchor(s string) *string { return &s }

func weight(w float64) *float64 { return &w }

// Unit vectors along each axis.
var (
	e1 = []float64{1, 0, 0, 0}
	e2 = []float64{0, 1, 0, 0}
	e3 = []float64{0, 0, 1, 0}
)

func mustUpsert(t *testing.T, s *Store, rec *types.IngestRecord, emb []float64) int64 {
	t.Helper()
	id, err := s.Upsert(context.Background(), rec, emb)
	require.NoError(t, err)
	return id
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(query, args...).Scan(&n))
	return n
}
