package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache[int](2, time.Minute)
	c.Set("a", "", 1)
	c.Set("b", "", 2)

	// Touch a so b becomes the eviction candidate.
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("c", "", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	st := c.Stats()
	assert.Equal(t, 2, st.Size)
	assert.Equal(t, 2, st.Capacity)
	assert.Equal(t, uint64(1), st.Evictions)
	assert.Equal(t, uint64(3), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestQueryCache_InsertionOrderEviction(t *testing.T) {
	c := NewQueryCache[string](2, time.Minute)
	c.Set("a", "", "A")
	c.Set("b", "", "B")
	c.Set("c", "", "C")

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestQueryCache_SetExistingRefreshes(t *testing.T) {
	c := NewQueryCache[int](2, time.Minute)
	c.Set("a", "", 1)
	c.Set("b", "", 2)
	c.Set("a", "", 10)
	c.Set("c", "", 3)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestQueryCache_TTL(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	c := NewQueryCache[int](10, 15*time.Minute)
	c.SetClock(func() time.Time { return now })

	c.Set("a", "", 1)
	now = now.Add(14 * time.Minute)
	_, ok := c.Get("a")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is removed on access")
}

func TestQueryCache_InvalidateFolder(t *testing.T) {
	c := NewQueryCache[int](10, time.Minute)
	c.Set("k1", "specs/auth", 1)
	c.Set("k2", "specs/auth-v2", 2)
	c.Set("k3", "specs/billing", 3)
	c.Set("auth-k4", "", 4)

	n := c.InvalidateFolder("auth")
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("k3")
	assert.True(t, ok)
}

func TestQueryCache_DeleteAndClear(t *testing.T) {
	c := NewQueryCache[int](4, time.Minute)
	c.Set("a", "", 1)
	c.Set("b", "", 2)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)

	c.Set("c", "", 3)
	v, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestQueryCache_ReusesFreedSlots(t *testing.T) {
	c := NewQueryCache[int](3, time.Minute)
	for round := 0; round < 20; round++ {
		for i := 0; i < 3; i++ {
			c.Set(fmt.Sprintf("%d-%d", round, i), "", i)
		}
		c.Delete(fmt.Sprintf("%d-1", round))
	}
	assert.LessOrEqual(t, len(c.nodes), 3)
	assert.Equal(t, 2, c.Len())

	// The list stays well formed: walking from head reaches every entry.
	seen := 0
	for i := c.head; i != none; i = c.nodes[i].next {
		seen++
	}
	assert.Equal(t, c.Len(), seen)
}

func TestQueryCache_Defaults(t *testing.T) {
	c := NewQueryCache[int](0, 0)
	assert.Equal(t, DefaultQueryCapacity, c.Stats().Capacity)
	assert.Equal(t, DefaultQueryTTL, c.ttl)
}

func TestKey(t *testing.T) {
	type opts struct {
		Folder string `json:"folder"`
	}
	k := Key("auth flow", 10, opts{Folder: "specs/a"})
	assert.Len(t, k, 16)
	assert.Equal(t, k, Key("auth flow", 10, opts{Folder: "specs/a"}))
	assert.NotEqual(t, k, Key("auth flow", 11, opts{Folder: "specs/a"}))
	assert.NotEqual(t, k, Key("auth flow", 10, opts{Folder: "specs/b"}))

	// Unencodable options fall back to query and limit.
	ch := make(chan int)
	assert.Equal(t, Key("q", 1, ch), Key("q", 1, func() {}))
}
