// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package probe

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bulwark-dev/bulwark/internal/metrics"
	"github.com/bulwark-dev/bulwark/internal/registry"
	"github.com/bulwark-dev/bulwark/internal/selector"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

const (
	// DefaultInterval is how often every provider is probed.
	DefaultInterval = 30 * time.Second
	// DefaultTimeout bounds a single liveness check.
	DefaultTimeout = 10 * time.Second
)

// Func issues one liveness check against a provider. A nil error means
// the provider answered within the timeout.
type Func func(ctx context.Context, p registry.Provider) error

// Config parameterizes the prober. Zero values fall back to the defaults.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Prober periodically issues bounded-timeout liveness checks against
// every registered provider and reports the results into the registry.
// Probes within a tick are fired concurrently so one slow provider never
// delays another's health update. Probing is suppressed while offline.
type Prober struct {
	reg     *registry.Registry
	sel     *selector.Selector
	metrics *metrics.Metrics
	cfg     Config
	online  atomic.Bool

	mu         sync.RWMutex
	probeFuncs map[registry.Class]Func
	defaultFn  Func
}

// New creates a Prober. Zero durations in cfg take the package defaults;
// negative durations are rejected.
func New(reg *registry.Registry, sel *selector.Selector, m *metrics.Metrics, cfg Config) (*Prober, error) {
	if cfg.Interval < 0 || cfg.Timeout < 0 {
		return nil, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"probe interval and timeout must be non-negative, got %s / %s", cfg.Interval, cfg.Timeout)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	p := &Prober{
		reg:        reg,
		sel:        sel,
		metrics:    m,
		cfg:        cfg,
		probeFuncs: make(map[registry.Class]Func),
		defaultFn:  httpProbe(&http.Client{}),
	}
	p.online.Store(true)
	return p, nil
}

// SetProbeFunc overrides the liveness check for one class. The default
// issues an HTTP GET against the provider endpoint and treats any 2xx
// response as success.
func (p *Prober) SetProbeFunc(class registry.Class, fn Func) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probeFuncs[class] = fn
}

// SetOnline toggles probing on connectivity changes. While offline no
// probes are issued, so stale failure state survives until reconnect.
func (p *Prober) SetOnline(online bool) {
	p.online.Store(online)
}

// Run probes immediately, then on every interval tick until ctx is
// cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.ProbeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll fires one probe per registered provider across every class.
// Probes run concurrently and are not awaited as a group; each result is
// applied to the registry as it lands.
func (p *Prober) ProbeAll(ctx context.Context) {
	if !p.online.Load() {
		return
	}

	for _, class := range registry.Classes() {
		for _, prov := range p.reg.Providers(class) {
			go p.probeOne(ctx, class, prov)
		}
	}
}

// ProbeSync probes every provider and waits for all results, for callers
// that need the registry settled before proceeding (startup, tests).
func (p *Prober) ProbeSync(ctx context.Context) {
	if !p.online.Load() {
		return
	}

	var wg sync.WaitGroup
	for _, class := range registry.Classes() {
		for _, prov := range p.reg.Providers(class) {
			wg.Add(1)
			go func(class registry.Class, prov registry.Provider) {
				defer wg.Done()
				p.probeOne(ctx, class, prov)
			}(class, prov)
		}
	}
	wg.Wait()
}

func (p *Prober) probeOne(ctx context.Context, class registry.Class, prov registry.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	began := time.Now()
	err := p.fn(class)(probeCtx, prov)
	latency := time.Since(began)

	success := err == nil
	p.reg.MarkResult(class, prov.Name, success, latency)
	p.metrics.ObserveProbe(string(class), prov.Name, success)

	updated, getErr := p.reg.Get(class, prov.Name)
	if getErr != nil {
		return
	}
	p.metrics.SetProviderHealthy(string(class), prov.Name, updated.Healthy)

	// A probe failure is never surfaced to callers, but losing the
	// currently selected provider forces an immediate re-resolution
	// instead of waiting for the next request.
	if !updated.Healthy && p.reg.Current(class) == prov.Name {
		if next, selErr := p.sel.Reselect(class); selErr == nil && next.Name != prov.Name {
			slog.Info("current provider unhealthy, reselected",
				"class", class, "from", prov.Name, "to", next.Name)
		}
	}

	if !success {
		slog.Debug("probe failed", "class", class, "provider", prov.Name,
			"latency", latency, "error", err)
	}
}

func (p *Prober) fn(class registry.Class) Func {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if fn, ok := p.probeFuncs[class]; ok {
		return fn
	}
	return p.defaultFn
}

// httpProbe returns the default liveness check: GET the provider
// endpoint and require a 2xx status.
func httpProbe(client *http.Client) Func {
	return func(ctx context.Context, p registry.Provider) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint, nil)
		if err != nil {
			return bulwarkerr.Wrapf(err, bulwarkerr.CodeProbeUpstreamFailure,
				"building probe request for %s", p.Endpoint)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return bulwarkerr.Wrap(err, bulwarkerr.CodeProbeTimeout, "probe timed out",
					bulwarkerr.FieldProvider(p.Name))
			}
			return bulwarkerr.Wrap(err, bulwarkerr.CodeProbeUpstreamFailure, "probe request failed",
				bulwarkerr.FieldProvider(p.Name))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return bulwarkerr.Errorf(bulwarkerr.CodeProbeUpstreamFailure,
				"probe returned status %d from %s", resp.StatusCode, p.Name)
		}
		return nil
	}
}
