// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package probe_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bulwark-dev/bulwark/internal/probe"
	"github.com/bulwark-dev/bulwark/internal/registry"
	"github.com/bulwark-dev/bulwark/internal/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T, cfg probe.Config) (*registry.Registry, *selector.Selector, *probe.Prober) {
	t.Helper()
	reg, err := registry.New(registry.DefaultFailureThreshold)
	require.NoError(t, err)
	sel := selector.New(reg, nil)
	p, err := probe.New(reg, sel, nil, cfg)
	require.NoError(t, err)
	return reg, sel, p
}

func TestNew_RejectsNegativeDurations(t *testing.T) {
	reg, err := registry.New(registry.DefaultFailureThreshold)
	require.NoError(t, err)
	sel := selector.New(reg, nil)

	_, err = probe.New(reg, sel, nil, probe.Config{Interval: -time.Second})
	require.Error(t, err)
}

func TestProbeSync_SuccessMarksHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg, _, p := newFixture(t, probe.Config{Timeout: time.Second})
	require.NoError(t, reg.Add(registry.ClassSandbox, "alpha", srv.URL))

	// Seed some failures so success is observable as a reset.
	reg.MarkResult(registry.ClassSandbox, "alpha", false, 0)
	reg.MarkResult(registry.ClassSandbox, "alpha", false, 0)

	p.ProbeSync(context.Background())

	prov, err := reg.Get(registry.ClassSandbox, "alpha")
	require.NoError(t, err)
	assert.True(t, prov.Healthy)
	assert.Equal(t, 0, prov.FailureCount)
	assert.False(t, prov.LastCheckedAt.IsZero())
}

func TestProbeSync_Non2xxCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg, _, p := newFixture(t, probe.Config{Timeout: time.Second})
	require.NoError(t, reg.Add(registry.ClassInference, "alpha", srv.URL))

	p.ProbeSync(context.Background())

	prov, err := reg.Get(registry.ClassInference, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, prov.FailureCount)
}

func TestProbeSync_TimeoutCountsAsFailure(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	reg, _, p := newFixture(t, probe.Config{Timeout: 50 * time.Millisecond})
	require.NoError(t, reg.Add(registry.ClassStorage, "alpha", srv.URL))

	p.ProbeSync(context.Background())

	prov, err := reg.Get(registry.ClassStorage, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, prov.FailureCount)
}

func TestProbeSync_SuppressedWhileOffline(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg, _, p := newFixture(t, probe.Config{Timeout: time.Second})
	require.NoError(t, reg.Add(registry.ClassSandbox, "alpha", srv.URL))

	p.SetOnline(false)
	p.ProbeSync(context.Background())

	mu.Lock()
	assert.Equal(t, 0, hits)
	mu.Unlock()

	p.SetOnline(true)
	p.ProbeSync(context.Background())

	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

func TestProbeSync_CustomProbeFunc(t *testing.T) {
	reg, _, p := newFixture(t, probe.Config{Timeout: time.Second})
	require.NoError(t, reg.Add(registry.ClassStorage, "alpha", "storage-alpha"))

	p.SetProbeFunc(registry.ClassStorage, func(_ context.Context, prov registry.Provider) error {
		if prov.Name == "alpha" {
			return errors.New("replica lag")
		}
		return nil
	})

	p.ProbeSync(context.Background())

	prov, err := reg.Get(registry.ClassStorage, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, prov.FailureCount)
}

func TestProbeSync_ReselectsWhenCurrentGoesUnhealthy(t *testing.T) {
	reg, _, p := newFixture(t, probe.Config{Timeout: time.Second})
	require.NoError(t, reg.Add(registry.ClassInference, "primary", "inference-primary"))
	require.NoError(t, reg.Add(registry.ClassInference, "secondary", "inference-secondary"))

	p.SetProbeFunc(registry.ClassInference, func(_ context.Context, prov registry.Provider) error {
		if prov.Name == "primary" {
			return errors.New("down")
		}
		return nil
	})

	// Two failures leave the circuit closed; the third opens it and the
	// prober must immediately move the current pointer off the primary.
	for range registry.DefaultFailureThreshold {
		p.ProbeSync(context.Background())
	}

	assert.Equal(t, "secondary", reg.Current(registry.ClassInference))
}
