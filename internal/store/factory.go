// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package store

import (
	"sync"

	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// Config selects and parameterizes a storage backend.
type Config struct {
	Backend string // "sqlite" (default) or "memory"
	Path    string // database file path; ignored by the memory backend
}

// Factory creates a StateStore for a backend.
type Factory func(cfg Config) (StateStore, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New creates a StateStore for the configured backend, defaulting to sqlite.
func New(cfg Config) (StateStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, bulwarkerr.Errorf(bulwarkerr.CodeStoreBackendUnsupported,
			"unsupported storage backend: %q", backend)
	}

	return factory(cfg)
}
