// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package store

import (
	"encoding/json"
	"time"
)

// QueuedOperation is one deferred mutation awaiting connectivity. Kind is
// an opaque tag interpreted by the caller-supplied executor; the queue
// itself never inspects Payload.
type QueuedOperation struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

// CacheEntry is one cached value with its TTL bookkeeping. An entry is
// logically expired once now-StoredAt >= TTL, whether or not it is still
// physically present in either tier.
type CacheEntry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

// Expired reports whether the entry must be treated as absent at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}
