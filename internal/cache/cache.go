// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bulwark-dev/bulwark/internal/metrics"
	"github.com/bulwark-dev/bulwark/internal/store"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// Cache is the two-tier result cache: an in-process map backed by the
// durable store tier. The cache is advisory, so durable tier failures
// are reported through the error hook but never propagated to callers.
type Cache struct {
	durable store.StateStore
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]store.CacheEntry
	nowFunc func() time.Time

	// onStoreError receives swallowed durable-tier failures so the
	// orchestrator can publish them as diagnostics.
	onStoreError func(op string, err error)
}

// New creates a Cache over the durable tier.
func New(durable store.StateStore, m *metrics.Metrics) *Cache {
	return &Cache{
		durable: durable,
		metrics: m,
		entries: make(map[string]store.CacheEntry),
		nowFunc: time.Now,
	}
}

// SetOnStoreError installs the hook for swallowed durable-tier failures.
// Must be set during wiring, before concurrent use.
func (c *Cache) SetOnStoreError(fn func(op string, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStoreError = fn
}

// SetNowFunc overrides the time source (for testing).
func (c *Cache) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFunc = fn
}

// Set stores value under key in both tiers with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeCacheDecodeInvalid, "encoding cache value",
			bulwarkerr.FieldCacheKey(key))
	}

	c.mu.Lock()
	entry := store.CacheEntry{Value: raw, StoredAt: c.nowFunc(), TTL: ttl}
	c.entries[key] = entry
	c.mu.Unlock()

	if err := c.durable.PutCache(ctx, key, entry); err != nil {
		c.reportStoreError("put", err)
	}
	return nil
}

// Get looks key up in the in-process tier first, then the durable tier,
// promoting valid durable hits back into memory. Expired entries are
// treated as absent and evicted lazily. The returned bool reports whether
// a live value was found and decoded into out.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	c.mu.Lock()
	now := c.nowFunc()
	entry, ok := c.entries[key]
	if ok && entry.Expired(now) {
		delete(c.entries, key)
		ok = false
		c.mu.Unlock()

		c.metrics.ObserveCacheLookup("expired")
		if err := c.durable.DeleteCache(ctx, key); err != nil {
			c.reportStoreError("delete", err)
		}
		return false, nil
	}
	c.mu.Unlock()

	if ok {
		c.metrics.ObserveCacheLookup("hit_memory")
		return true, c.decode(key, entry, out)
	}

	entry, found, err := c.durable.GetCache(ctx, key)
	if err != nil {
		c.reportStoreError("get", err)
		c.metrics.ObserveCacheLookup("miss")
		return false, nil
	}
	if !found {
		c.metrics.ObserveCacheLookup("miss")
		return false, nil
	}

	if entry.Expired(now) {
		c.metrics.ObserveCacheLookup("expired")
		if err := c.durable.DeleteCache(ctx, key); err != nil {
			c.reportStoreError("delete", err)
		}
		return false, nil
	}

	// Promote the durable hit back into the in-process tier.
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	c.metrics.ObserveCacheLookup("hit_durable")
	return true, c.decode(key, entry, out)
}

// Invalidate removes every entry whose key contains pattern from both
// tiers. An empty pattern removes everything.
func (c *Cache) Invalidate(ctx context.Context, pattern string) {
	c.mu.Lock()
	if pattern == "" {
		c.entries = make(map[string]store.CacheEntry)
	} else {
		for key := range c.entries {
			if strings.Contains(key, pattern) {
				delete(c.entries, key)
			}
		}
	}
	c.mu.Unlock()

	var err error
	if pattern == "" {
		err = c.durable.PurgeCache(ctx)
	} else {
		err = c.durable.DeleteCacheContaining(ctx, pattern)
	}
	if err != nil {
		c.reportStoreError("invalidate", err)
	}
}

func (c *Cache) decode(key string, entry store.CacheEntry, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(entry.Value, out); err != nil {
		return bulwarkerr.Wrap(err, bulwarkerr.CodeCacheDecodeInvalid, "decoding cache value",
			bulwarkerr.FieldCacheKey(key))
	}
	return nil
}

func (c *Cache) reportStoreError(op string, err error) {
	slog.Warn("cache durable tier error", "op", op, "error", err)

	c.mu.RLock()
	fn := c.onStoreError
	c.mu.RUnlock()
	if fn != nil {
		fn(op, err)
	}
}
