// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package health

import "time"

// Status is the derived health of one service class.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// OverallStatus is the derived health of the whole system.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "healthy"
	OverallDegraded OverallStatus = "degraded"
	OverallCritical OverallStatus = "critical"
)

// ProviderHealth is a point-in-time snapshot of one provider's state.
// All fields are copies safe to serialize to JSON.
type ProviderHealth struct {
	Name          string        `json:"name"`
	Endpoint      string        `json:"endpoint"`
	Priority      int           `json:"priority"`
	Healthy       bool          `json:"healthy"`
	FailureCount  int           `json:"failure_count"`
	LastLatencyMS int64         `json:"last_latency_ms"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
}

// ClassHealth aggregates the providers of one service class.
type ClassHealth struct {
	Status           Status           `json:"status"`
	HealthyProviders int              `json:"healthy_providers"`
	TotalProviders   int              `json:"total_providers"`
	CurrentProvider  string           `json:"current_provider"`
	Providers        []ProviderHealth `json:"providers"`
}

// SystemHealth is the aggregated snapshot across every service class.
// It is always derived from provider state, never stored as ground truth.
type SystemHealth struct {
	Overall   OverallStatus          `json:"overall"`
	Classes   map[string]ClassHealth `json:"classes"`
	CheckedAt time.Time              `json:"checked_at"`
}

// EventType distinguishes the kinds of events published to subscribers.
type EventType string

const (
	EventHealth     EventType = "health"
	EventDiagnostic EventType = "diagnostic"
)

// Diagnostic reports a non-fatal internal condition, such as a swallowed
// persistence failure, so operators can observe it without requests failing.
type Diagnostic struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Event is what subscribers receive. Exactly one of Health or Diagnostic
// is set, according to Type.
type Event struct {
	Type       EventType     `json:"type"`
	Health     *SystemHealth `json:"health,omitempty"`
	Diagnostic *Diagnostic   `json:"diagnostic,omitempty"`
	At         time.Time     `json:"at"`
}
