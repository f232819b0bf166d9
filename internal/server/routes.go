// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bulwark-dev/bulwark/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "system-health",
		Method:      http.MethodGet,
		Path:        "/v1/system-health",
		Summary:     "Full system health snapshot",
		Tags:        []string{"health"},
	}, s.handleSystemHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/v1/status",
		Summary:     "Orchestrator status summary",
		Tags:        []string{"system"},
	}, s.handleStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/v1/reset",
		Summary:     "Reset all circuit breakers and clear caches",
		Tags:        []string{"system"},
	}, s.handleReset)

	huma.Register(s.api, huma.Operation{
		OperationID: "set-online",
		Method:      http.MethodPut,
		Path:        "/v1/online",
		Summary:     "Signal a connectivity change",
		Tags:        []string{"system"},
	}, s.handleSetOnline)
}

// --- Request/Response types for huma ---

type systemHealthOutput struct {
	Body health.SystemHealth
}

type statusOutput struct {
	Body StatusBody
}

// StatusBody summarizes the orchestrator for the status CLI.
type StatusBody struct {
	Status     string               `json:"status" example:"ok" doc:"Server status"`
	Online     bool                 `json:"online" doc:"Platform connectivity state"`
	Overall    health.OverallStatus `json:"overall" doc:"Derived system health"`
	QueueDepth int                  `json:"queue_depth" doc:"Pending offline operations"`
}

type resetOutput struct {
	Body struct {
		Status string `json:"status" example:"reset"`
	}
}

type setOnlineInput struct {
	Body struct {
		Online bool `json:"online" doc:"True when platform connectivity is available"`
	}
}

type setOnlineOutput struct {
	Body struct {
		Online bool `json:"online"`
	}
}

// --- Handlers ---

func (s *Server) handleSystemHealth(_ context.Context, _ *struct{}) (*systemHealthOutput, error) {
	return &systemHealthOutput{Body: s.orch.SystemHealth()}, nil
}

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{}
	out.Body = StatusBody{
		Status:     "ok",
		Online:     s.orch.Online(),
		Overall:    s.orch.SystemHealth().Overall,
		QueueDepth: s.orch.QueueDepth(),
	}
	return out, nil
}

func (s *Server) handleReset(ctx context.Context, _ *struct{}) (*resetOutput, error) {
	s.orch.ResetAll(ctx)
	out := &resetOutput{}
	out.Body.Status = "reset"
	return out, nil
}

func (s *Server) handleSetOnline(_ context.Context, in *setOnlineInput) (*setOnlineOutput, error) {
	// Connectivity-triggered drains outlive the request, so they run
	// against a background context rather than the request's.
	s.orch.SetOnline(context.Background(), in.Body.Online)
	out := &setOnlineOutput{}
	out.Body.Online = in.Body.Online
	return out, nil
}
