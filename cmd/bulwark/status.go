// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bulwark-dev/bulwark/pkg/health"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator status",
		Long:  "Check the running daemon's status endpoint and display system health per service class.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:18990", "daemon address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	dc := newDaemonClient(addr)
	var status struct {
		Status     string `json:"status"`
		Online     bool   `json:"online"`
		Overall    string `json:"overall"`
		QueueDepth int    `json:"queue_depth"`
	}
	if err := dc.getJSON("/v1/status", &status); err != nil {
		if errors.Is(err, ErrDaemonNotRunning) {
			_, _ = fmt.Fprintf(out, "Bulwark at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Bulwark at %s: %s\n", addr, err)
		return nil
	}

	connectivity := "online"
	if !status.Online {
		connectivity = "offline"
	}
	_, _ = fmt.Fprintf(out, "Bulwark at %s: %s (%s, queued: %d)\n", addr, status.Overall, connectivity, status.QueueDepth)

	var sys health.SystemHealth
	if err := dc.getJSON("/v1/system-health", &sys); err != nil {
		return nil
	}

	classes := make([]string, 0, len(sys.Classes))
	for name := range sys.Classes {
		classes = append(classes, name)
	}
	sort.Strings(classes)

	for _, name := range classes {
		ch := sys.Classes[name]
		_, _ = fmt.Fprintf(out, "  %-10s %s (%d/%d healthy, current: %s)\n",
			name, ch.Status, ch.HealthyProviders, ch.TotalProviders, ch.CurrentProvider)
	}

	return nil
}
