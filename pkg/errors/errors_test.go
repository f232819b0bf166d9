// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := bulwarkerr.New(
		bulwarkerr.CodeSelectorNoneHealthy,
		"no healthy provider",
		bulwarkerr.FieldClass("sandbox"),
		bulwarkerr.Field("attempts", 3),
	)

	require.Error(t, err)
	assert.Equal(t, bulwarkerr.CodeSelectorNoneHealthy, bulwarkerr.CodeOf(err))
	assert.True(t, bulwarkerr.HasCode(err, bulwarkerr.CodeSelectorNoneHealthy))

	fields := bulwarkerr.FieldsOf(err)
	assert.Equal(t, "sandbox", fields["class"])
	assert.Equal(t, 3, fields["attempts"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := bulwarkerr.Errorf(bulwarkerr.CodeStoreWriteFailure, "persisting snapshot: %w", inner)

	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, bulwarkerr.CodeStoreWriteFailure, bulwarkerr.CodeOf(err))
	assert.Contains(t, err.Error(), "persisting snapshot")
}

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("record missing")
	err := bulwarkerr.Wrap(
		root,
		bulwarkerr.CodeRegistryProviderNotFound,
		"loading provider",
		bulwarkerr.FieldProvider("sandbox-primary"),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, bulwarkerr.CodeRegistryProviderNotFound, bulwarkerr.CodeOf(err))
	assert.True(t, bulwarkerr.IsNotFound(err))
	assert.Equal(t, "sandbox-primary", bulwarkerr.FieldsOf(err)["provider"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, bulwarkerr.Wrap(nil, bulwarkerr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, bulwarkerr.Wrapf(nil, bulwarkerr.CodeServerInternalFailure, "ignored %s", "arg"))
}

func TestCodeOfUncodedError(t *testing.T) {
	assert.Equal(t, bulwarkerr.Code(""), bulwarkerr.CodeOf(stderrors.New("plain")))
	assert.Equal(t, bulwarkerr.Code(""), bulwarkerr.CodeOf(nil))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"timeout", bulwarkerr.New(bulwarkerr.CodeProbeTimeout, "probe timed out"), bulwarkerr.IsTimeout},
		{"exhausted", bulwarkerr.New(bulwarkerr.CodeSelectorAllExhausted, "every provider failed"), bulwarkerr.IsExhausted},
		{"invalid input", bulwarkerr.New(bulwarkerr.CodeConfigValidateInvalidValue, "bad interval"), bulwarkerr.IsInvalidInput},
		{"upstream", bulwarkerr.New(bulwarkerr.CodeSandboxUpstreamFailure, "bad gateway"), bulwarkerr.IsUpstreamFailure},
		{"not found", bulwarkerr.New(bulwarkerr.CodeCacheEntryNotFound, "missing entry"), bulwarkerr.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.pred(tt.err))
			assert.False(t, tt.pred(stderrors.New("plain")))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, bulwarkerr.HTTPStatus(bulwarkerr.New(bulwarkerr.CodeRegistryProviderNotFound, "missing")))
	assert.Equal(t, http.StatusBadRequest, bulwarkerr.HTTPStatus(bulwarkerr.New(bulwarkerr.CodeServerRequestInvalid, "bad body")))
	assert.Equal(t, http.StatusInternalServerError, bulwarkerr.HTTPStatus(stderrors.New("plain")))
}

func TestJoinCollectsAll(t *testing.T) {
	a := bulwarkerr.New(bulwarkerr.CodeConfigValidateInvalidValue, "bad threshold")
	b := bulwarkerr.New(bulwarkerr.CodeConfigValidateInvalidValue, "bad listen address")

	err := bulwarkerr.Join(a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad threshold")
	assert.Contains(t, err.Error(), "bad listen address")

	assert.NoError(t, bulwarkerr.Join(nil, nil))
}
