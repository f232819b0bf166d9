// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bulwark-dev/bulwark/internal/config"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bulwark daemon",
		Long:  "Load configuration, initialize all subsystems, and start probing and the HTTP status server.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	// initViper already merged file, env, and flags into the global Viper.
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if viper.GetBool("verbose") {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	dataDir := viper.GetString("data_dir")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving data directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share", "bulwark")
	}

	app, err := WireApp(cfg, dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = app.Store.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}
	defer func() { _ = app.Orchestrator.Close() }()

	slog.Info("starting bulwark", "listen", cfg.Server.Listen, "data_dir", dataDir)

	return app.Server.Start(ctx)
}
