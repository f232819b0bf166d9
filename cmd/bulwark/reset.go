// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset circuit breakers and clear caches",
		Long:  "Ask the running daemon to close every circuit breaker and drop all cached data.",
		RunE:  runReset,
	}

	cmd.Flags().String("address", "127.0.0.1:18990", "daemon address")

	return cmd
}

func runReset(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	dc := newDaemonClient(addr)
	if err := dc.postJSON("/v1/reset", nil); err != nil {
		if errors.Is(err, ErrDaemonNotRunning) {
			_, _ = fmt.Fprintf(out, "Bulwark at %s is not running (connection refused)\n", addr)
			return nil
		}
		return err
	}

	_, _ = fmt.Fprintln(out, "Resilience state reset")
	return nil
}
