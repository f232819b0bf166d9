// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package store

import (
	"context"
	"strings"
	"sync"

	"github.com/bulwark-dev/bulwark/internal/registry"
)

func init() {
	RegisterBackend("memory", func(Config) (StateStore, error) {
		return NewMemoryStore(), nil
	})
}

// MemoryStore is an in-process StateStore. It backs tests and acts as a
// degraded fallback when no durable path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	classes map[registry.Class]registry.ClassSnapshot
	queue   []QueuedOperation
	cache   map[string]CacheEntry
}

var _ StateStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes: make(map[registry.Class]registry.ClassSnapshot),
		cache:   make(map[string]CacheEntry),
	}
}

func (m *MemoryStore) SaveClassState(_ context.Context, class registry.Class, snap registry.ClassSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[class] = snap
	return nil
}

func (m *MemoryStore) LoadClassState(_ context.Context, class registry.Class) (registry.ClassSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.classes[class]
	return snap, ok, nil
}

func (m *MemoryStore) SaveQueue(_ context.Context, items []QueuedOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append([]QueuedOperation(nil), items...)
	return nil
}

func (m *MemoryStore) LoadQueue(_ context.Context) ([]QueuedOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]QueuedOperation(nil), m.queue...), nil
}

func (m *MemoryStore) PutCache(_ context.Context, key string, entry CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = entry
	return nil
}

func (m *MemoryStore) GetCache(_ context.Context, key string) (CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.cache[key]
	return entry, ok, nil
}

func (m *MemoryStore) DeleteCache(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

func (m *MemoryStore) DeleteCacheContaining(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.cache {
		if strings.Contains(key, pattern) {
			delete(m.cache, key)
		}
	}
	return nil
}

func (m *MemoryStore) PurgeCache(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]CacheEntry)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
