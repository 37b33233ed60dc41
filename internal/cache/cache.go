// Package cache holds resolved crates for the lifetime of the process.
//
// At most one retrieval per crate name is in flight at any time: concurrent
// callers for the same name wait for and share the first caller's result.
// Entries are replaced whole, never mutated, and are dropped only by
// Invalidate or Purge.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/git-pkgs/crateindex/internal/core"
)

// DefaultTimeout bounds a single retrieval.
const DefaultTimeout = 30 * time.Second

// Cache is a single-flight resolution cache keyed by normalized crate name.
type Cache struct {
	load    core.Loader
	timeout time.Duration
	logger  *log.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]*core.ResolvedPackage
	// epochs counts invalidations per key so a retrieval started before an
	// invalidation never repopulates the entry.
	epochs map[string]uint64
	purges uint64
	// inflight counts running retrievals per key so Purge can detach them.
	inflight map[string]int
}

// Option configures a Cache.
type Option func(*Cache)

// WithTimeout bounds each retrieval. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns an empty cache that fills itself with load.
func New(load core.Loader, opts ...Option) *Cache {
	c := &Cache{
		load:     load,
		timeout:  DefaultTimeout,
		logger:   log.Default().WithPrefix("cache"),
		entries:  make(map[string]*core.ResolvedPackage),
		epochs:   make(map[string]uint64),
		inflight: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached package for name, retrieving it on first use.
// Failed retrievals are not cached.
//
// The retrieval itself is detached from ctx: a caller that gives up does
// not abort a retrieval other callers may be waiting on. Get still returns
// ctx.Err() as soon as ctx is done.
func (c *Cache) Get(ctx context.Context, name string) (*core.ResolvedPackage, error) {
	key := core.NormalizeName(name)

	if pkg, ok := c.lookup(key); ok {
		return pkg, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fill(context.WithoutCancel(ctx), key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("shared in-flight retrieval", "crate", key)
		}
		return res.Val.(*core.ResolvedPackage), nil
	}
}

func (c *Cache) fill(ctx context.Context, key string) (*core.ResolvedPackage, error) {
	c.mu.Lock()
	epoch, purges := c.epochs[key], c.purges
	if pkg, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return pkg, nil
	}
	c.inflight[key]++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.inflight[key]--; c.inflight[key] <= 0 {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	pkg, err := c.load(ctx, key)
	if err != nil {
		c.logger.Debug("retrieval failed", "crate", key, "err", err)
		return nil, err
	}
	if pkg == nil {
		return nil, &core.NotFoundError{Path: key}
	}
	if pkg.FetchedAt.IsZero() {
		pkg.FetchedAt = time.Now()
	}

	c.mu.Lock()
	if c.epochs[key] == epoch && c.purges == purges {
		c.entries[key] = pkg
	}
	c.mu.Unlock()

	c.logger.Debug("resolved crate", "crate", key, "versions", len(pkg.Versions), "took", time.Since(start))
	return pkg, nil
}

// Peek returns the cached entry for name without triggering a retrieval.
func (c *Cache) Peek(name string) (*core.ResolvedPackage, bool) {
	return c.lookup(core.NormalizeName(name))
}

func (c *Cache) lookup(key string) (*core.ResolvedPackage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pkg, ok := c.entries[key]
	return pkg, ok
}

// Invalidate drops the entry for name. A retrieval already in flight for
// name still answers its waiters but is not stored.
func (c *Cache) Invalidate(name string) {
	key := core.NormalizeName(name)
	c.mu.Lock()
	delete(c.entries, key)
	c.epochs[key]++
	c.mu.Unlock()
	c.group.Forget(key)
}

// Purge drops every entry. Retrievals in flight still answer their waiters
// but are not stored, and later callers start a fresh retrieval.
func (c *Cache) Purge() {
	c.mu.Lock()
	for key := range c.entries {
		c.group.Forget(key)
	}
	for key := range c.inflight {
		c.group.Forget(key)
	}
	c.purges++
	c.entries = make(map[string]*core.ResolvedPackage)
	c.mu.Unlock()
}

// Len returns the number of cached crates.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
