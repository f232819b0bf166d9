// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bulwark-dev/bulwark/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bulwark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:18990", cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Probing.Interval)
	assert.Equal(t, 10*time.Second, cfg.Probing.Timeout)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)

	// Absent classes fall back to the hard-coded provider lists.
	require.Contains(t, cfg.Classes, "sandbox")
	require.Contains(t, cfg.Classes, "inference")
	require.Contains(t, cfg.Classes, "storage")
	assert.NotEmpty(t, cfg.Classes["sandbox"].Providers)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "127.0.0.1:9999"
probing:
  interval: 5s
  timeout: 2s
classes:
  sandbox:
    providers:
      - name: local
        endpoint: http://localhost:8731
  inference:
    providers:
      - name: primary
        endpoint: https://llm-a.example
      - name: fallback
        endpoint: https://llm-b.example
  storage:
    fail_open: false
    providers:
      - name: main
        endpoint: https://db.example
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
	assert.Equal(t, 5*time.Second, cfg.Probing.Interval)
	assert.Equal(t, 2*time.Second, cfg.Probing.Timeout)

	require.Len(t, cfg.Classes["inference"].Providers, 2)
	assert.Equal(t, "primary", cfg.Classes["inference"].Providers[0].Name)

	assert.True(t, cfg.Classes["sandbox"].FailOpenOrDefault(), "unset fail_open defaults to true")
	assert.False(t, cfg.Classes["storage"].FailOpenOrDefault())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "not-an-address"
storage:
  backend: etcd
probing:
  interval: 0s
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.listen")
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "probing.interval")
}

func TestValidate_RejectsUnknownClass(t *testing.T) {
	path := writeConfig(t, `
classes:
  billing:
    providers:
      - name: x
        endpoint: https://x.example
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing")
}

func TestValidate_RejectsDuplicateProviders(t *testing.T) {
	path := writeConfig(t, `
classes:
  sandbox:
    providers:
      - name: twin
        endpoint: https://a.example
      - name: twin
        endpoint: https://b.example
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider name")
}

func TestValidate_RejectsEmptyProviderList(t *testing.T) {
	path := writeConfig(t, `
classes:
  inference:
    providers: []
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one provider")
}
