package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Query cache defaults.
const (
	DefaultQueryCapacity = 500
	DefaultQueryTTL      = 15 * time.Minute
)

const none = -1

type lruNode[V any] struct {
	key     string
	folder  string
	value   V
	expires time.Time
	prev    int
	next    int
}

// QueryCache is a fixed-capacity LRU with per-entry TTL. Nodes live in one
// slice and link to each other by index; freed slots are reused through a
// free list. All operations are O(1) except InvalidateFolder.
type QueryCache[V any] struct {
	mu       sync.Mutex
	nodes    []lruNode[V]
	index    map[string]int
	free     []int
	head     int // most recently used
	tail     int // least recently used
	capacity int
	ttl      time.Duration
	now      func() time.Time

	hits, misses, evictions uint64
}

// NewQueryCache returns an empty cache. Non-positive arguments select the
// defaults.
func NewQueryCache[V any](capacity int, ttl time.Duration) *QueryCache[V] {
	if capacity <= 0 {
		capacity = DefaultQueryCapacity
	}
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	return &QueryCache[V]{
		nodes:    make([]lruNode[V], 0, capacity),
		index:    make(map[string]int, capacity),
		head:     none,
		tail:     none,
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock replaces the clock; tests use it to expire entries.
func (c *QueryCache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *QueryCache[V]) unlink(i int) {
	n := &c.nodes[i]
	if n.prev != none {
		c.nodes[n.prev].next = n.next
	} else {
		c.head = n.next
	}
	if n.next != none {
		c.nodes[n.next].prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = none, none
}

func (c *QueryCache[V]) pushFront(i int) {
	n := &c.nodes[i]
	n.prev, n.next = none, c.head
	if c.head != none {
		c.nodes[c.head].prev = i
	}
	c.head = i
	if c.tail == none {
		c.tail = i
	}
}

func (c *QueryCache[V]) remove(i int) {
	c.unlink(i)
	delete(c.index, c.nodes[i].key)
	var zero V
	c.nodes[i].value = zero
	c.nodes[i].key, c.nodes[i].folder = "", ""
	c.free = append(c.free, i)
}

// Get returns the value for key. An expired entry is removed and reported
// as a miss.
func (c *QueryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	i, ok := c.index[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if !c.now().Before(c.nodes[i].expires) {
		c.remove(i)
		c.misses++
		return zero, false
	}
	c.unlink(i)
	c.pushFront(i)
	c.hits++
	return c.nodes[i].value, true
}

// Set stores value under key, tagged with the spec folder it was computed
// for (may be empty). The least recently used entry is evicted when full.
func (c *QueryCache[V]) Set(key, folder string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if i, ok := c.index[key]; ok {
		c.nodes[i].value, c.nodes[i].folder, c.nodes[i].expires = value, folder, expires
		c.unlink(i)
		c.pushFront(i)
		return
	}

	if len(c.index) >= c.capacity {
		c.remove(c.tail)
		c.evictions++
	}

	n := lruNode[V]{key: key, folder: folder, value: value, expires: expires, prev: none, next: none}
	var i int
	if len(c.free) > 0 {
		i = c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
		c.nodes[i] = n
	} else {
		c.nodes = append(c.nodes, n)
		i = len(c.nodes) - 1
	}
	c.index[key] = i
	c.pushFront(i)
}

// Delete removes key and reports whether it was present.
func (c *QueryCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[key]
	if ok {
		c.remove(i)
	}
	return ok
}

// InvalidateFolder removes every entry whose key or folder tag contains
// substr and returns how many were removed.
func (c *QueryCache[V]) InvalidateFolder(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for i := c.head; i != none; {
		next := c.nodes[i].next
		if strings.Contains(c.nodes[i].key, substr) || strings.Contains(c.nodes[i].folder, substr) {
			c.remove(i)
			removed++
		}
		i = next
	}
	return removed
}

// Clear removes every entry.
func (c *QueryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = c.nodes[:0]
	c.free = c.free[:0]
	c.index = make(map[string]int, c.capacity)
	c.head, c.tail = none, none
}

// Len returns the number of entries, expired ones included.
func (c *QueryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Stats returns the current counters.
func (c *QueryCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.index), Capacity: c.capacity, Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}

// Key derives a deterministic cache key from a query, its limit and any
// JSON-encodable options: the first 16 hex characters of a SHA-256 digest.
func Key(query string, limit int, options any) string {
	b, err := json.Marshal(struct {
		Query   string `json:"query"`
		Limit   int    `json:"limit"`
		Options any    `json:"options"`
	}{query, limit, options})
	if err != nil {
		// Unencodable options still yield a stable key for query and limit.
		b = []byte(fmt.Sprintf("%s\x00%d", query, limit))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
