// Package cache holds the two caches in front of the record store: the
// constitutional-tier cache and the LRU query-result cache.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/storage"
)

// DefaultConstitutionalTTL bounds how long a constitutional set is served
// without a refresh.
const DefaultConstitutionalTTL = 5 * time.Minute

// GlobalKey is the cache key used when no spec folder is given.
const GlobalKey = "global"

// Loader fetches the constitutional rows for a folder ("" = all folders).
type Loader func(ctx context.Context, specFolder string) ([]storage.ScoredRecord, error)

// ConstitutionalOptions configures a ConstitutionalCache.
type ConstitutionalOptions struct {
	TTL time.Duration // default: 5 minutes

	// ModTime reports when the backing store last changed on disk. An entry
	// refreshed before that time is stale even inside its TTL, so writes by
	// another process are picked up.
	ModTime func() (time.Time, error)

	Now    func() time.Time
	Logger *zap.Logger
}

type constEntry struct {
	rows     []storage.ScoredRecord
	loadedAt time.Time
	valid    bool
	loading  bool
}

// ConstitutionalCache caches the constitutional tier per spec folder.
// Only one refresh per key runs at a time: while it is in flight, other
// callers get the previous rows (or none) instead of starting another.
type ConstitutionalCache struct {
	load    Loader
	ttl     time.Duration
	modTime func() (time.Time, error)
	now     func() time.Time
	log     *zap.Logger

	mu      sync.Mutex
	entries map[string]*constEntry
}

// NewConstitutionalCache returns a cache that refreshes through load.
func NewConstitutionalCache(load Loader, opts ConstitutionalOptions) *ConstitutionalCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultConstitutionalTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &ConstitutionalCache{
		load:    load,
		ttl:     opts.TTL,
		modTime: opts.ModTime,
		now:     opts.Now,
		log:     opts.Logger,
		entries: make(map[string]*constEntry),
	}
}

func keyFor(specFolder string) string {
	if specFolder == "" {
		return GlobalKey
	}
	return specFolder
}

// fresh reports whether e can be served without a refresh. Caller holds mu.
func (c *ConstitutionalCache) fresh(e *constEntry) bool {
	if !e.valid || c.now().Sub(e.loadedAt) >= c.ttl {
		return false
	}
	if c.modTime == nil {
		return true
	}
	mt, err := c.modTime()
	if err != nil {
		c.log.Warn("cache: failed to stat store, refreshing constitutional rows", zap.Error(err))
		return false
	}
	return !mt.After(e.loadedAt)
}

// Get returns the constitutional rows for specFolder. A failed refresh
// returns the error and keeps the previous rows for the next caller.
func (c *ConstitutionalCache) Get(ctx context.Context, specFolder string) ([]storage.ScoredRecord, error) {
	key := keyFor(specFolder)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &constEntry{}
		c.entries[key] = e
	}
	if c.fresh(e) || e.loading {
		rows := e.rows
		c.mu.Unlock()
		return rows, nil
	}
	e.loading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		e.loading = false
		c.mu.Unlock()
	}()

	started := c.now()
	rows, err := c.load(ctx, specFolder)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// An Invalidate during the load replaced the entry; don't resurrect it.
	if c.entries[key] == e {
		e.rows, e.loadedAt, e.valid = rows, started, true
	}
	c.mu.Unlock()
	return rows, nil
}

// Invalidate drops the entry for specFolder and the global entry, which
// contains every folder's rows.
func (c *ConstitutionalCache) Invalidate(specFolder string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, keyFor(specFolder))
	delete(c.entries, GlobalKey)
}

// Clear drops every entry.
func (c *ConstitutionalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*constEntry)
}
