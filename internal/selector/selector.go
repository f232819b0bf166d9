// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package selector

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bulwark-dev/bulwark/internal/metrics"
	"github.com/bulwark-dev/bulwark/internal/registry"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// Policy controls what Select does when every provider of a class is
// unhealthy. FailOpen returns the highest-priority provider anyway, on
// the theory that a slow, possibly-recovering backend beats an immediate
// hard failure for best-effort workloads. Fail-closed classes get an
// error instead.
type Policy struct {
	FailOpen bool
}

// Operation is attempted against one provider at a time during Execute.
// Implementations capture their own result; the selector only needs the
// error outcome.
type Operation func(ctx context.Context, p registry.Provider) error

// Selector resolves the best provider per class and runs operations with
// sequential failover across the class's registry.
type Selector struct {
	reg     *registry.Registry
	metrics *metrics.Metrics

	mu       sync.RWMutex
	policies map[registry.Class]Policy
}

// New creates a Selector over reg. Every class defaults to fail-open.
func New(reg *registry.Registry, m *metrics.Metrics) *Selector {
	return &Selector{
		reg:      reg,
		metrics:  m,
		policies: make(map[registry.Class]Policy),
	}
}

// SetPolicy overrides the degraded-mode policy for one class.
func (s *Selector) SetPolicy(class registry.Class, p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[class] = p
}

func (s *Selector) policy(class registry.Class) Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[class]; ok {
		return p
	}
	return Policy{FailOpen: true}
}

// Select returns the highest-priority healthy provider for the class,
// breaking priority ties by lowest observed latency. With zero healthy
// providers the class policy decides between last-resort degraded mode
// and an error. Deterministic given identical registry state.
func (s *Selector) Select(class registry.Class) (registry.Provider, error) {
	providers := s.reg.Providers(class)
	if len(providers) == 0 {
		return registry.Provider{}, bulwarkerr.New(bulwarkerr.CodeRegistryEmptyClass,
			"no providers configured for class "+string(class),
			bulwarkerr.FieldClass(string(class)))
	}

	healthy := make([]registry.Provider, 0, len(providers))
	for _, p := range providers {
		if p.Healthy {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		if s.policy(class).FailOpen {
			return best(providers), nil
		}
		return registry.Provider{}, bulwarkerr.New(bulwarkerr.CodeSelectorNoneHealthy,
			"no healthy provider for class "+string(class),
			bulwarkerr.FieldClass(string(class)))
	}

	return best(healthy), nil
}

// Reselect recomputes the current provider for a class, used when probing
// discovers the present selection has gone unhealthy. Returns the new
// selection.
func (s *Selector) Reselect(class registry.Class) (registry.Provider, error) {
	p, err := s.Select(class)
	if err != nil {
		return registry.Provider{}, err
	}
	s.reg.SetCurrent(class, p.Name)
	return p, nil
}

// Execute runs op with failover: attempts follow priority order starting
// at the provider that most recently succeeded, wrapping, for at most one
// attempt per registered provider. Every outcome is recorded through
// MarkResult; the caller only ever sees success or the terminal
// exhaustion error carrying the last underlying failure.
func (s *Selector) Execute(ctx context.Context, class registry.Class, op Operation) error {
	providers := s.reg.Providers(class)
	if len(providers) == 0 {
		return bulwarkerr.New(bulwarkerr.CodeRegistryEmptyClass,
			"no providers configured for class "+string(class),
			bulwarkerr.FieldClass(string(class)))
	}

	// Fail-closed classes refuse degraded-mode traffic outright.
	if !s.policy(class).FailOpen && !anyHealthy(providers) {
		return bulwarkerr.New(bulwarkerr.CodeSelectorNoneHealthy,
			"no healthy provider for class "+string(class),
			bulwarkerr.FieldClass(string(class)))
	}

	start := slices.IndexFunc(providers, func(p registry.Provider) bool {
		return p.Name == s.reg.Current(class)
	})
	if start < 0 {
		start = 0
	}

	var lastErr error
	for i := range providers {
		p := providers[(start+i)%len(providers)]

		began := time.Now()
		err := op(ctx, p)
		latency := time.Since(began)

		s.reg.MarkResult(class, p.Name, err == nil, latency)

		if err == nil {
			s.reg.SetCurrent(class, p.Name)
			return nil
		}

		lastErr = err
		slog.Warn("provider attempt failed",
			"class", class, "provider", p.Name, "latency", latency, "error", err)

		if i < len(providers)-1 {
			s.metrics.ObserveFailover(string(class))
		}
	}

	s.metrics.ObserveExhausted(string(class))
	return bulwarkerr.Wrap(lastErr, bulwarkerr.CodeSelectorAllExhausted,
		"all providers exhausted for class "+string(class),
		bulwarkerr.FieldClass(string(class)),
		bulwarkerr.Field("attempts", len(providers)))
}

func anyHealthy(providers []registry.Provider) bool {
	return slices.ContainsFunc(providers, func(p registry.Provider) bool {
		return p.Healthy
	})
}

// best picks the lowest-priority-value provider, ties broken by lowest
// last observed latency.
func best(providers []registry.Provider) registry.Provider {
	return slices.MinFunc(providers, func(a, b registry.Provider) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		switch {
		case a.LastLatency < b.LastLatency:
			return -1
		case a.LastLatency > b.LastLatency:
			return 1
		}
		return 0
	})
}
