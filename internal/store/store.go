// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package store

import (
	"context"

	"github.com/bulwark-dev/bulwark/internal/registry"
)

// StateStore is the durable storage behind the resilience layer: provider
// health snapshots, the offline mutation queue, and the second cache tier.
// Implementations must be safe for concurrent use.
type StateStore interface {
	// Provider health, one record per service class.
	SaveClassState(ctx context.Context, class registry.Class, snap registry.ClassSnapshot) error
	LoadClassState(ctx context.Context, class registry.Class) (registry.ClassSnapshot, bool, error)

	// Offline mutation queue, one ordered record set.
	SaveQueue(ctx context.Context, items []QueuedOperation) error
	LoadQueue(ctx context.Context) ([]QueuedOperation, error)

	// Durable cache tier.
	PutCache(ctx context.Context, key string, entry CacheEntry) error
	GetCache(ctx context.Context, key string) (CacheEntry, bool, error)
	DeleteCache(ctx context.Context, key string) error
	DeleteCacheContaining(ctx context.Context, pattern string) error
	PurgeCache(ctx context.Context) error

	Close() error
}
