// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package registry_test

import (
	"testing"
	"time"

	"github.com/bulwark-dev/bulwark/internal/registry"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New(registry.DefaultFailureThreshold)
	require.NoError(t, err)
	return r
}

func TestNew_RejectsNonPositiveThreshold(t *testing.T) {
	_, err := registry.New(0)
	require.Error(t, err)
	assert.True(t, bulwarkerr.HasCode(err, bulwarkerr.CodeConfigValidateInvalidValue))
}

func TestAdd_PriorityFollowsInsertionOrder(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassInference, "primary", "https://primary.example"))
	require.NoError(t, r.Add(registry.ClassInference, "secondary", "https://secondary.example"))

	ps := r.Providers(registry.ClassInference)
	require.Len(t, ps, 2)
	assert.Equal(t, "primary", ps[0].Name)
	assert.Equal(t, 0, ps[0].Priority)
	assert.Equal(t, "secondary", ps[1].Name)
	assert.Equal(t, 1, ps[1].Priority)
}

func TestAdd_RejectsDuplicateAndUnknownClass(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassStorage, "primary", "https://a.example"))

	err := r.Add(registry.ClassStorage, "primary", "https://b.example")
	require.Error(t, err)

	err = r.Add(registry.Class("postal"), "primary", "https://c.example")
	require.Error(t, err)
	assert.True(t, bulwarkerr.HasCode(err, bulwarkerr.CodeRegistryClassUnknown))
}

func TestMarkResult_OpensCircuitAtThreshold(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassSandbox, "alpha", "https://alpha.example"))

	for i := 1; i <= 2; i++ {
		r.MarkResult(registry.ClassSandbox, "alpha", false, 50*time.Millisecond)
		p, err := r.Get(registry.ClassSandbox, "alpha")
		require.NoError(t, err)
		assert.True(t, p.Healthy, "still healthy after %d failures", i)
		assert.Equal(t, i, p.FailureCount)
	}

	r.MarkResult(registry.ClassSandbox, "alpha", false, 50*time.Millisecond)
	p, err := r.Get(registry.ClassSandbox, "alpha")
	require.NoError(t, err)
	assert.False(t, p.Healthy, "third consecutive failure must open the circuit")
	assert.Equal(t, 3, p.FailureCount)
}

func TestMarkResult_SingleSuccessClosesCircuit(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassSandbox, "alpha", "https://alpha.example"))

	for range 3 {
		r.MarkResult(registry.ClassSandbox, "alpha", false, 0)
	}
	r.MarkResult(registry.ClassSandbox, "alpha", true, 20*time.Millisecond)

	p, err := r.Get(registry.ClassSandbox, "alpha")
	require.NoError(t, err)
	assert.True(t, p.Healthy)
	assert.Equal(t, 0, p.FailureCount)
	assert.Equal(t, 20*time.Millisecond, p.LastLatency)
}

func TestMarkResult_SuccessResetsCountFromAnyState(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassInference, "alpha", "https://alpha.example"))

	r.MarkResult(registry.ClassInference, "alpha", false, 0)
	r.MarkResult(registry.ClassInference, "alpha", true, 0)

	p, err := r.Get(registry.ClassInference, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 0, p.FailureCount)
	assert.True(t, p.Healthy)
}

func TestMarkResult_UnknownProviderIsNoOp(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassStorage, "alpha", "https://alpha.example"))

	// Must not panic or create phantom entries.
	r.MarkResult(registry.ClassStorage, "ghost", false, 0)
	assert.Len(t, r.Providers(registry.ClassStorage), 1)
}

func TestMarkResult_StampsCheckTime(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassStorage, "alpha", "https://alpha.example"))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.SetNowFunc(func() time.Time { return now })

	r.MarkResult(registry.ClassStorage, "alpha", true, time.Millisecond)
	p, err := r.Get(registry.ClassStorage, "alpha")
	require.NoError(t, err)
	assert.Equal(t, now, p.LastCheckedAt)
}

func TestMarkResult_FiresOnChange(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassInference, "alpha", "https://alpha.example"))

	var changed []registry.Class
	r.SetOnChange(func(c registry.Class) { changed = append(changed, c) })

	r.MarkResult(registry.ClassInference, "alpha", false, 0)
	r.MarkResult(registry.ClassInference, "ghost", false, 0) // no mutation, no event

	assert.Equal(t, []registry.Class{registry.ClassInference}, changed)
}

func TestCurrent_DefaultsToFirstProvider(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassSandbox, "alpha", "https://alpha.example"))
	require.NoError(t, r.Add(registry.ClassSandbox, "beta", "https://beta.example"))

	assert.Equal(t, "alpha", r.Current(registry.ClassSandbox))

	r.SetCurrent(registry.ClassSandbox, "beta")
	assert.Equal(t, "beta", r.Current(registry.ClassSandbox))

	r.SetCurrent(registry.ClassSandbox, "ghost")
	assert.Equal(t, "beta", r.Current(registry.ClassSandbox), "unknown names are ignored")
}

func TestResetAll_ClosesEveryCircuit(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassSandbox, "alpha", "https://alpha.example"))
	require.NoError(t, r.Add(registry.ClassInference, "beta", "https://beta.example"))

	for range 3 {
		r.MarkResult(registry.ClassSandbox, "alpha", false, 0)
		r.MarkResult(registry.ClassInference, "beta", false, 0)
	}

	r.ResetAll()

	for _, tc := range []struct {
		class registry.Class
		name  string
	}{
		{registry.ClassSandbox, "alpha"},
		{registry.ClassInference, "beta"},
	} {
		p, err := r.Get(tc.class, tc.name)
		require.NoError(t, err)
		assert.True(t, p.Healthy)
		assert.Equal(t, 0, p.FailureCount)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassStorage, "alpha", "https://alpha.example"))
	require.NoError(t, r.Add(registry.ClassStorage, "beta", "https://beta.example"))

	for range 3 {
		r.MarkResult(registry.ClassStorage, "alpha", false, 40*time.Millisecond)
	}
	r.MarkResult(registry.ClassStorage, "beta", true, 15*time.Millisecond)
	r.SetCurrent(registry.ClassStorage, "beta")

	snap := r.Snapshot(registry.ClassStorage)

	fresh := newRegistry(t)
	require.NoError(t, fresh.Add(registry.ClassStorage, "alpha", "https://alpha.example"))
	require.NoError(t, fresh.Add(registry.ClassStorage, "beta", "https://beta.example"))
	fresh.Restore(registry.ClassStorage, snap)

	for _, want := range r.Providers(registry.ClassStorage) {
		got, err := fresh.Get(registry.ClassStorage, want.Name)
		require.NoError(t, err)
		assert.Equal(t, want.Healthy, got.Healthy, want.Name)
		assert.Equal(t, want.FailureCount, got.FailureCount, want.Name)
	}
	assert.Equal(t, "beta", fresh.Current(registry.ClassStorage))
}

func TestRestore_DropsUnknownProviders(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add(registry.ClassStorage, "alpha", "https://alpha.example"))

	r.Restore(registry.ClassStorage, registry.ClassSnapshot{
		Providers: []registry.ProviderRecord{
			{Name: "retired", Healthy: false, FailureCount: 9},
		},
		CurrentProvider: "retired",
	})

	assert.Len(t, r.Providers(registry.ClassStorage), 1)
	assert.Equal(t, "alpha", r.Current(registry.ClassStorage))
}
