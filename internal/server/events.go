// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bulwark-dev/bulwark/pkg/health"
)

func (s *Server) registerEventsRoute() {
	s.router.Get("/v1/events", s.handleEvents)

	// Register the operation in the OpenAPI spec manually. The SSE
	// handler needs raw http.ResponseWriter access, so it cannot use
	// Huma's standard handler signature. The chi route above does the
	// actual request handling; this entry is for documentation.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "events",
		Method:      http.MethodGet,
		Path:        "/v1/events",
		Summary:     "Stream health and diagnostic events via SSE",
		Description: "Subscribe to the orchestrator's event feed. Each event is a JSON object with type \"health\" or \"diagnostic\".",
		Tags:        []string{"health"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{
							Type:        "string",
							Description: "Server-sent event stream",
						},
					},
				},
			},
		},
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		// httptest.ResponseRecorder doesn't implement Flusher,
		// but we still write the events for testability.
		flusher = nil
	}

	// Buffered so slow clients drop events instead of blocking the
	// orchestrator's publish path.
	ch := make(chan health.Event, 16)
	unsubscribe := s.orch.Subscribe(func(evt health.Event) {
		select {
		case ch <- evt:
		default:
		}
	})
	defer unsubscribe()

	// Send the current snapshot first so subscribers don't have to wait
	// for the next probe cycle.
	current := s.orch.SystemHealth()
	snapshot := health.Event{
		Type:   health.EventHealth,
		Health: &current,
		At:     current.CheckedAt,
	}
	if !writeEvent(w, snapshot) {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if !writeEvent(w, evt) {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, evt health.Event) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		return false
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err == nil
}
