// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package selector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bulwark-dev/bulwark/internal/registry"
	"github.com/bulwark-dev/bulwark/internal/selector"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T, names ...string) (*registry.Registry, *selector.Selector) {
	t.Helper()
	reg, err := registry.New(registry.DefaultFailureThreshold)
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, reg.Add(registry.ClassInference, name, "https://"+name+".example"))
	}
	return reg, selector.New(reg, nil)
}

func openCircuit(reg *registry.Registry, class registry.Class, name string) {
	for range registry.DefaultFailureThreshold {
		reg.MarkResult(class, name, false, 0)
	}
}

func TestSelect_PrefersHighestPriorityHealthy(t *testing.T) {
	reg, sel := newFixture(t, "primary", "secondary", "tertiary")

	openCircuit(reg, registry.ClassInference, "primary")

	p, err := sel.Select(registry.ClassInference)
	require.NoError(t, err)
	assert.Equal(t, "secondary", p.Name)
}

func TestSelect_PriorityBeatsLatency(t *testing.T) {
	reg, err := registry.New(registry.DefaultFailureThreshold)
	require.NoError(t, err)
	sel := selector.New(reg, nil)

	require.NoError(t, reg.Add(registry.ClassStorage, "east", "https://east.example"))
	require.NoError(t, reg.Add(registry.ClassStorage, "west", "https://west.example"))
	reg.MarkResult(registry.ClassStorage, "east", true, 80*time.Millisecond)
	reg.MarkResult(registry.ClassStorage, "west", true, 10*time.Millisecond)

	p, err := sel.Select(registry.ClassStorage)
	require.NoError(t, err)
	assert.Equal(t, "east", p.Name, "priority order wins before latency")
}

func TestSelect_Deterministic(t *testing.T) {
	reg, sel := newFixture(t, "primary", "secondary")
	openCircuit(reg, registry.ClassInference, "primary")

	first, err := sel.Select(registry.ClassInference)
	require.NoError(t, err)
	for range 5 {
		p, err := sel.Select(registry.ClassInference)
		require.NoError(t, err)
		assert.Equal(t, first.Name, p.Name)
	}
}

func TestSelect_FailOpenReturnsUnhealthyProvider(t *testing.T) {
	reg, sel := newFixture(t, "primary", "secondary")
	openCircuit(reg, registry.ClassInference, "primary")
	openCircuit(reg, registry.ClassInference, "secondary")

	p, err := sel.Select(registry.ClassInference)
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name)
	assert.False(t, p.Healthy)
}

func TestSelect_FailClosedErrors(t *testing.T) {
	reg, sel := newFixture(t, "primary")
	sel.SetPolicy(registry.ClassInference, selector.Policy{FailOpen: false})
	openCircuit(reg, registry.ClassInference, "primary")

	_, err := sel.Select(registry.ClassInference)
	require.Error(t, err)
	assert.True(t, bulwarkerr.HasCode(err, bulwarkerr.CodeSelectorNoneHealthy))
}

func TestSelect_EmptyClass(t *testing.T) {
	_, sel := newFixture(t)

	_, err := sel.Select(registry.ClassInference)
	require.Error(t, err)
	assert.True(t, bulwarkerr.HasCode(err, bulwarkerr.CodeRegistryEmptyClass))
}

func TestExecute_SucceedsOnFirstAttempt(t *testing.T) {
	_, sel := newFixture(t, "primary", "secondary")

	var attempts []string
	err := sel.Execute(context.Background(), registry.ClassInference,
		func(_ context.Context, p registry.Provider) error {
			attempts = append(attempts, p.Name)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, attempts)
}

func TestExecute_FailsOverInPriorityOrder(t *testing.T) {
	reg, sel := newFixture(t, "primary", "secondary", "tertiary")

	var attempts []string
	err := sel.Execute(context.Background(), registry.ClassInference,
		func(_ context.Context, p registry.Provider) error {
			attempts = append(attempts, p.Name)
			if p.Name == "tertiary" {
				return nil
			}
			return errors.New(p.Name + " is down")
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "secondary", "tertiary"}, attempts)
	assert.Equal(t, "tertiary", reg.Current(registry.ClassInference))
}

func TestExecute_ExhaustionAttemptsEachProviderExactlyOnce(t *testing.T) {
	_, sel := newFixture(t, "primary", "secondary", "tertiary")

	var attempts []string
	err := sel.Execute(context.Background(), registry.ClassInference,
		func(_ context.Context, p registry.Provider) error {
			attempts = append(attempts, p.Name)
			return errors.New(p.Name + " refused")
		})

	require.Error(t, err)
	assert.True(t, bulwarkerr.HasCode(err, bulwarkerr.CodeSelectorAllExhausted))
	assert.Equal(t, []string{"primary", "secondary", "tertiary"}, attempts)
	assert.Contains(t, err.Error(), "tertiary refused", "terminal error carries the last provider's failure")
}

func TestExecute_StartsAtLastSuccessfulProvider(t *testing.T) {
	reg, sel := newFixture(t, "primary", "secondary", "tertiary")
	reg.SetCurrent(registry.ClassInference, "secondary")

	var attempts []string
	err := sel.Execute(context.Background(), registry.ClassInference,
		func(_ context.Context, p registry.Provider) error {
			attempts = append(attempts, p.Name)
			return errors.New("down")
		})

	require.Error(t, err)
	assert.Equal(t, []string{"secondary", "tertiary", "primary"}, attempts, "wraps in priority order from current")
}

func TestExecute_RecordsResultsInRegistry(t *testing.T) {
	reg, sel := newFixture(t, "primary", "secondary")

	err := sel.Execute(context.Background(), registry.ClassInference,
		func(_ context.Context, p registry.Provider) error {
			if p.Name == "primary" {
				return errors.New("down")
			}
			return nil
		})
	require.NoError(t, err)

	primary, err := reg.Get(registry.ClassInference, "primary")
	require.NoError(t, err)
	assert.Equal(t, 1, primary.FailureCount)

	secondary, err := reg.Get(registry.ClassInference, "secondary")
	require.NoError(t, err)
	assert.Equal(t, 0, secondary.FailureCount)
	assert.True(t, secondary.Healthy)
}

func TestExecute_FailClosedRefusesDegradedTraffic(t *testing.T) {
	reg, sel := newFixture(t, "primary")
	sel.SetPolicy(registry.ClassInference, selector.Policy{FailOpen: false})
	openCircuit(reg, registry.ClassInference, "primary")

	called := false
	err := sel.Execute(context.Background(), registry.ClassInference,
		func(context.Context, registry.Provider) error {
			called = true
			return nil
		})

	require.Error(t, err)
	assert.True(t, bulwarkerr.HasCode(err, bulwarkerr.CodeSelectorNoneHealthy))
	assert.False(t, called)
}
