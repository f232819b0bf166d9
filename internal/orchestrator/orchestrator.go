// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bulwark-dev/bulwark/internal/cache"
	"github.com/bulwark-dev/bulwark/internal/metrics"
	"github.com/bulwark-dev/bulwark/internal/probe"
	"github.com/bulwark-dev/bulwark/internal/queue"
	"github.com/bulwark-dev/bulwark/internal/registry"
	"github.com/bulwark-dev/bulwark/internal/sandbox"
	"github.com/bulwark-dev/bulwark/internal/selector"
	"github.com/bulwark-dev/bulwark/internal/store"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
	"github.com/bulwark-dev/bulwark/pkg/health"
)

// Options carries the explicitly constructed components the Orchestrator
// composes. Registry, Selector, and Store are required; the rest are
// optional depending on which surfaces the caller uses.
type Options struct {
	Registry *registry.Registry
	Selector *selector.Selector
	Prober   *probe.Prober
	Cache    *cache.Cache
	Queue    *queue.Queue
	Sandbox  *sandbox.Client
	Store    store.StateStore
	Metrics  *metrics.Metrics
}

// Orchestrator aggregates the per-class resilience machinery into one
// health snapshot and one event channel. There is no process-wide
// instance; callers construct and inject one via Options.
type Orchestrator struct {
	reg     *registry.Registry
	sel     *selector.Selector
	prober  *probe.Prober
	cache   *cache.Cache
	queue   *queue.Queue
	sandbox *sandbox.Client
	store   store.StateStore
	metrics *metrics.Metrics

	nowFunc func() time.Time
	online  atomic.Bool

	subMu       sync.RWMutex
	subscribers map[string]func(health.Event)

	drainMu       sync.RWMutex
	drainExecutor queue.Executor
}

// New wires an Orchestrator from explicitly constructed components and
// installs the registry/cache/queue hooks that feed persistence and the
// event channel.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil || opts.Selector == nil || opts.Store == nil {
		return nil, bulwarkerr.New(bulwarkerr.CodeCLISetupFailure,
			"orchestrator requires a registry, selector, and state store")
	}

	o := &Orchestrator{
		reg:         opts.Registry,
		sel:         opts.Selector,
		prober:      opts.Prober,
		cache:       opts.Cache,
		queue:       opts.Queue,
		sandbox:     opts.Sandbox,
		store:       opts.Store,
		metrics:     opts.Metrics,
		nowFunc:     time.Now,
		subscribers: make(map[string]func(health.Event)),
	}
	o.online.Store(true)

	o.reg.SetOnChange(o.handleRegistryChange)
	if o.cache != nil {
		o.cache.SetOnStoreError(func(op string, err error) {
			o.publishDiagnostic("cache", "durable cache tier "+op+" failed", err)
		})
	}
	if o.queue != nil {
		o.queue.SetOnStoreError(func(err error) {
			o.publishDiagnostic("queue", "persisting offline queue failed", err)
		})
		o.queue.SetOnDropped(func(op store.QueuedOperation, err error) {
			o.publishDiagnostic("queue",
				"dropped operation "+op.ID+" ("+op.Kind+") after "+
					"exhausting its retry budget", err)
		})
	}

	return o, nil
}

// Start restores persisted provider state and the offline queue, then
// launches background probing. State is restored before any selection so
// a restart does not forget which providers were recently misbehaving.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.restoreState(ctx)

	if o.queue != nil {
		if err := o.queue.Load(ctx); err != nil {
			// Recoverable: the queue simply starts empty.
			slog.Warn("restoring offline queue failed", "error", err)
			o.publishDiagnostic("queue", "restoring offline queue failed", err)
		}
	}

	if o.prober != nil {
		go o.prober.Run(ctx)
	}
	return nil
}

// Close releases the durable store.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// SystemHealth derives the aggregated snapshot from live provider state.
// Callers receive copies, never live references.
func (o *Orchestrator) SystemHealth() health.SystemHealth {
	snapshot := health.SystemHealth{
		Classes:   make(map[string]health.ClassHealth, len(registry.Classes())),
		CheckedAt: o.nowFunc(),
	}

	overall := health.OverallHealthy
	for _, class := range registry.Classes() {
		ch := o.classHealth(class)
		snapshot.Classes[string(class)] = ch

		switch ch.Status {
		case health.StatusDown:
			overall = health.OverallCritical
		case health.StatusDegraded:
			if overall == health.OverallHealthy {
				overall = health.OverallDegraded
			}
		}
	}
	snapshot.Overall = overall
	return snapshot
}

// Subscribe registers a callback invoked on every health recomputation
// and diagnostic, and returns its unsubscribe function.
func (o *Orchestrator) Subscribe(fn func(health.Event)) func() {
	id := uuid.NewString()

	o.subMu.Lock()
	o.subscribers[id] = fn
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.subscribers, id)
		o.subMu.Unlock()
	}
}

// ResetAll clears every failure counter and the whole cache across all
// classes. Administrative escape hatch.
func (o *Orchestrator) ResetAll(ctx context.Context) {
	o.reg.ResetAll()
	if o.cache != nil {
		o.cache.Invalidate(ctx, "")
	}
	slog.Info("resilience state reset")
}

// SetOnline reacts to platform connectivity signals: probing is
// suppressed while offline, and reconnecting kicks off a queue drain
// using the configured executor.
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) {
	wasOnline := o.online.Swap(online)
	if o.prober != nil {
		o.prober.SetOnline(online)
	}

	if online && !wasOnline {
		slog.Info("connectivity restored")
		o.drainMu.RLock()
		exec := o.drainExecutor
		o.drainMu.RUnlock()

		if o.queue != nil && exec != nil {
			go func() {
				if err := o.queue.DrainLoop(ctx, exec); err != nil {
					slog.Warn("offline queue drain incomplete", "error", err)
				}
			}()
		}
	}
}

// Online reports the current connectivity state.
func (o *Orchestrator) Online() bool {
	return o.online.Load()
}

// QueueDepth returns the number of pending offline operations.
func (o *Orchestrator) QueueDepth() int {
	if o.queue == nil {
		return 0
	}
	return o.queue.Len()
}

// SetDrainExecutor installs the executor used for connectivity-triggered
// drains.
func (o *Orchestrator) SetDrainExecutor(exec queue.Executor) {
	o.drainMu.Lock()
	defer o.drainMu.Unlock()
	o.drainExecutor = exec
}

// Execute runs op with failover against the given class.
func (o *Orchestrator) Execute(ctx context.Context, class registry.Class, op selector.Operation) error {
	return o.sel.Execute(ctx, class, op)
}

// SelectProvider resolves the current best provider for a class.
func (o *Orchestrator) SelectProvider(class registry.Class) (registry.Provider, error) {
	return o.sel.Select(class)
}

// CacheData stores value in both cache tiers.
func (o *Orchestrator) CacheData(ctx context.Context, key string, value any, ttl time.Duration) error {
	return o.cache.Set(ctx, key, value, ttl)
}

// CachedData retrieves a live cached value into out.
func (o *Orchestrator) CachedData(ctx context.Context, key string, out any) (bool, error) {
	return o.cache.Get(ctx, key, out)
}

// InvalidateCache removes entries whose key contains pattern ("" for all).
func (o *Orchestrator) InvalidateCache(ctx context.Context, pattern string) {
	o.cache.Invalidate(ctx, pattern)
}

// EnqueueOffline defers a mutation until connectivity returns.
func (o *Orchestrator) EnqueueOffline(ctx context.Context, kind string, payload any) (store.QueuedOperation, error) {
	return o.queue.Enqueue(ctx, kind, payload)
}

// DrainOffline runs one drain pass with the supplied executor.
func (o *Orchestrator) DrainOffline(ctx context.Context, exec queue.Executor) error {
	return o.queue.Drain(ctx, exec)
}

// FetchViaSandbox performs a failover-aware GET against the sandbox class.
func (o *Orchestrator) FetchViaSandbox(ctx context.Context, path string) ([]byte, error) {
	return o.sandbox.Fetch(ctx, path)
}

// handleRegistryChange runs after every MarkResult mutation: it persists
// the class snapshot and publishes a fresh health event. Persistence
// failures are logged and published as diagnostics, never returned to
// the caller that triggered the mutation.
func (o *Orchestrator) handleRegistryChange(class registry.Class) {
	snap := o.reg.Snapshot(class)
	if err := o.store.SaveClassState(context.Background(), class, snap); err != nil {
		slog.Warn("persisting provider state failed", "class", class, "error", err)
		o.publishDiagnostic("registry", "persisting provider state for class "+string(class)+" failed", err)
	}

	for _, p := range o.reg.Providers(class) {
		o.metrics.SetProviderHealthy(string(class), p.Name, p.Healthy)
	}

	snapshot := o.SystemHealth()
	o.publish(health.Event{
		Type:   health.EventHealth,
		Health: &snapshot,
		At:     o.nowFunc(),
	})
}

func (o *Orchestrator) classHealth(class registry.Class) health.ClassHealth {
	providers := o.reg.Providers(class)

	ch := health.ClassHealth{
		TotalProviders:  len(providers),
		CurrentProvider: o.reg.Current(class),
		Providers:       make([]health.ProviderHealth, 0, len(providers)),
	}

	for _, p := range providers {
		if p.Healthy {
			ch.HealthyProviders++
		}
		ch.Providers = append(ch.Providers, health.ProviderHealth{
			Name:          p.Name,
			Endpoint:      p.Endpoint,
			Priority:      p.Priority,
			Healthy:       p.Healthy,
			FailureCount:  p.FailureCount,
			LastLatencyMS: p.LastLatency.Milliseconds(),
			LastCheckedAt: p.LastCheckedAt,
		})
	}

	switch {
	case ch.TotalProviders == 0 || ch.HealthyProviders == 0:
		ch.Status = health.StatusDown
	case ch.HealthyProviders < ch.TotalProviders:
		ch.Status = health.StatusDegraded
	default:
		ch.Status = health.StatusHealthy
	}
	return ch
}

func (o *Orchestrator) restoreState(ctx context.Context) {
	for _, class := range registry.Classes() {
		snap, ok, err := o.store.LoadClassState(ctx, class)
		if err != nil {
			slog.Warn("loading persisted provider state failed", "class", class, "error", err)
			o.publishDiagnostic("registry", "loading provider state for class "+string(class)+" failed", err)
			continue
		}
		if ok {
			o.reg.Restore(class, snap)
		}
	}
}

func (o *Orchestrator) publish(evt health.Event) {
	o.subMu.RLock()
	fns := make([]func(health.Event), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		fns = append(fns, fn)
	}
	o.subMu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}

func (o *Orchestrator) publishDiagnostic(source, message string, err error) {
	diag := &health.Diagnostic{Source: source, Message: message}
	if err != nil {
		diag.Error = err.Error()
	}
	o.publish(health.Event{
		Type:       health.EventDiagnostic,
		Diagnostic: diag,
		At:         o.nowFunc(),
	})
}

// SetNowFunc overrides the time source (for testing).
func (o *Orchestrator) SetNowFunc(fn func() time.Time) {
	o.nowFunc = fn
}
