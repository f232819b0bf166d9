// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package registry

import (
	"slices"
	"sync"
	"time"

	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// DefaultFailureThreshold is the number of consecutive failures after
// which a provider's circuit opens.
const DefaultFailureThreshold = 3

// Registry holds the ordered provider candidates for every service class
// and owns the per-class current-provider pointer. MarkResult is the single
// code path that can change Healthy or FailureCount; every other method is
// a read-only consumer of copies.
type Registry struct {
	mu        sync.RWMutex
	providers map[Class][]*Provider
	current   map[Class]string
	threshold int
	nowFunc   func() time.Time

	// onChange is invoked (outside the lock) after every MarkResult
	// mutation so persistence and health recomputation can follow.
	onChange func(Class)
}

// New creates an empty Registry with the given circuit failure threshold.
func New(threshold int) (*Registry, error) {
	if threshold <= 0 {
		return nil, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"failure threshold must be positive, got %d", threshold)
	}
	return &Registry{
		providers: make(map[Class][]*Provider),
		current:   make(map[Class]string),
		threshold: threshold,
		nowFunc:   time.Now,
	}, nil
}

// Add registers a provider candidate for a class. Priority follows
// insertion order: the first provider added for a class is the most
// preferred. Providers start healthy and are never removed at runtime.
func (r *Registry) Add(class Class, name, endpoint string) error {
	if !class.Valid() {
		return bulwarkerr.New(bulwarkerr.CodeRegistryClassUnknown,
			"unknown service class: "+string(class), bulwarkerr.FieldClass(string(class)))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.providers[class] {
		if p.Name == name {
			return bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
				"provider %q already registered for class %q", name, class)
		}
	}

	r.providers[class] = append(r.providers[class], &Provider{
		Name:     name,
		Endpoint: endpoint,
		Priority: len(r.providers[class]),
		Healthy:  true,
	})

	// The first provider added becomes current until something better
	// is observed.
	if _, ok := r.current[class]; !ok {
		r.current[class] = name
	}
	return nil
}

// Providers returns copies of the class's providers in priority order.
func (r *Registry) Providers(class Class) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers[class]))
	for _, p := range r.providers[class] {
		out = append(out, *p)
	}
	return out
}

// Get returns a copy of one provider by name.
func (r *Registry) Get(class Class, name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.find(class, name); p != nil {
		return *p, nil
	}
	return Provider{}, bulwarkerr.New(bulwarkerr.CodeRegistryProviderNotFound,
		"provider not found: "+name,
		bulwarkerr.FieldClass(string(class)), bulwarkerr.FieldProvider(name))
}

// MarkResult records the outcome of a probe or a real call against a
// provider. A success closes the circuit and zeroes the failure count; a
// failure increments the count and opens the circuit once it reaches the
// threshold. Unknown providers are ignored: this is a monotone
// bookkeeping operation and never returns an error.
func (r *Registry) MarkResult(class Class, name string, success bool, latency time.Duration) {
	r.mu.Lock()
	p := r.find(class, name)
	if p == nil {
		r.mu.Unlock()
		return
	}

	p.LastCheckedAt = r.nowFunc()
	p.LastLatency = latency

	if success {
		p.FailureCount = 0
		p.Healthy = true
	} else {
		p.FailureCount++
		if p.FailureCount >= r.threshold {
			p.Healthy = false
		}
	}

	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(class)
	}
}

// Current returns the name of the currently selected provider for a class,
// or "" when the class has no providers.
func (r *Registry) Current(class Class) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current[class]
}

// SetCurrent records which provider most recently succeeded for a class.
// Unknown names are ignored. A real pointer move fires the change hook so
// the persisted record tracks the current selection.
func (r *Registry) SetCurrent(class Class, name string) {
	r.mu.Lock()
	changed := false
	if r.find(class, name) != nil && r.current[class] != name {
		r.current[class] = name
		changed = true
	}
	onChange := r.onChange
	r.mu.Unlock()

	if changed && onChange != nil {
		onChange(class)
	}
}

// ResetAll closes every circuit and zeroes every failure count across all
// classes. Administrative escape hatch; providers keep their latency and
// check timestamps.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	for _, ps := range r.providers {
		for _, p := range ps {
			p.FailureCount = 0
			p.Healthy = true
		}
	}
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		for _, class := range Classes() {
			onChange(class)
		}
	}
}

// Snapshot returns the durable record for one class.
func (r *Registry) Snapshot(class Class) ClassSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := ClassSnapshot{
		CurrentProvider: r.current[class],
		Timestamp:       r.nowFunc(),
	}
	for _, p := range r.providers[class] {
		snap.Providers = append(snap.Providers, ProviderRecord{
			Name:         p.Name,
			Healthy:      p.Healthy,
			FailureCount: p.FailureCount,
			LatencyMS:    p.LastLatency.Milliseconds(),
		})
	}
	return snap
}

// Restore applies a previously persisted snapshot so a restart does not
// forget which providers were recently misbehaving. Records for names
// that are no longer configured are dropped silently.
func (r *Registry) Restore(class Class, snap ClassSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range snap.Providers {
		p := r.find(class, rec.Name)
		if p == nil {
			continue
		}
		p.Healthy = rec.Healthy
		p.FailureCount = rec.FailureCount
		p.LastLatency = time.Duration(rec.LatencyMS) * time.Millisecond
	}

	if snap.CurrentProvider != "" && r.find(class, snap.CurrentProvider) != nil {
		r.current[class] = snap.CurrentProvider
	}
}

// SetOnChange installs the hook invoked after every MarkResult mutation.
// Must be set during wiring, before concurrent use.
func (r *Registry) SetOnChange(fn func(Class)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// SetNowFunc overrides the time source (for testing).
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = fn
}

// find returns the live provider entry, or nil. Caller must hold r.mu.
func (r *Registry) find(class Class, name string) *Provider {
	idx := slices.IndexFunc(r.providers[class], func(p *Provider) bool {
		return p.Name == name
	})
	if idx < 0 {
		return nil
	}
	return r.providers[class][idx]
}
