// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package main

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bulwark-dev/bulwark/internal/cache"
	"github.com/bulwark-dev/bulwark/internal/config"
	"github.com/bulwark-dev/bulwark/internal/metrics"
	"github.com/bulwark-dev/bulwark/internal/orchestrator"
	"github.com/bulwark-dev/bulwark/internal/probe"
	"github.com/bulwark-dev/bulwark/internal/queue"
	"github.com/bulwark-dev/bulwark/internal/registry"
	"github.com/bulwark-dev/bulwark/internal/sandbox"
	"github.com/bulwark-dev/bulwark/internal/selector"
	"github.com/bulwark-dev/bulwark/internal/server"
	"github.com/bulwark-dev/bulwark/internal/store"
	_ "github.com/bulwark-dev/bulwark/internal/store/sqlite" // register sqlite backend
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Server       *server.Server
	Store        store.StateStore
	Metrics      *metrics.Metrics
}

// WireApp creates all subsystems and wires them together.
// The dataDir is the root directory for all persistent state.
func WireApp(cfg *config.Config, dataDir string) (*App, error) {
	// Ensure the data directory exists.
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, bulwarkerr.Errorf(bulwarkerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	// 1. Durable state store.
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "bulwark.db")
	}
	st, err := store.New(store.Config{Backend: cfg.Storage.Backend, Path: dbPath})
	if err != nil {
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeCLISetupFailure, "creating state store")
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	// 2. Provider registry and selector, populated from config in a
	// deterministic class order so provider priority follows the file.
	reg, err := registry.New(cfg.Breaker.FailureThreshold)
	if err != nil {
		_ = st.Close()
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeCLISetupFailure, "creating provider registry")
	}

	sel := selector.New(reg, m)

	classNames := make([]string, 0, len(cfg.Classes))
	for name := range cfg.Classes {
		classNames = append(classNames, name)
	}
	sort.Strings(classNames)

	for _, name := range classNames {
		cc := cfg.Classes[name]
		class := registry.Class(name)
		sel.SetPolicy(class, selector.Policy{FailOpen: cc.FailOpenOrDefault()})
		for _, p := range cc.Providers {
			if err := reg.Add(class, p.Name, p.Endpoint); err != nil {
				_ = st.Close()
				return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeCLISetupFailure, "registering provider %s/%s", name, p.Name)
			}
		}
	}

	// 3. Health prober.
	prober, err := probe.New(reg, sel, m, probe.Config{
		Interval: cfg.Probing.Interval,
		Timeout:  cfg.Probing.Timeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeCLISetupFailure, "creating health prober")
	}

	// 4. Orchestrator over cache, queue, and sandbox client.
	orch, err := orchestrator.New(orchestrator.Options{
		Registry: reg,
		Selector: sel,
		Prober:   prober,
		Cache:    cache.New(st, m),
		Queue:    queue.New(st, m, cfg.Queue.MaxAttempts),
		Sandbox:  sandbox.New(sel, 0),
		Store:    st,
		Metrics:  m,
	})
	if err != nil {
		_ = st.Close()
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeCLISetupFailure, "creating orchestrator")
	}

	// 5. HTTP status server.
	srv, err := server.New(server.Config{ListenAddr: cfg.Server.Listen}, orch, promReg)
	if err != nil {
		_ = st.Close()
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeCLISetupFailure, "creating server")
	}

	return &App{
		Orchestrator: orch,
		Server:       srv,
		Store:        st,
		Metrics:      m,
	}, nil
}
