// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package registry

import "time"

// Class identifies one service class of external dependencies.
type Class string

const (
	ClassSandbox   Class = "sandbox"
	ClassInference Class = "inference"
	ClassStorage   Class = "storage"
)

// Classes returns every known service class in a stable order.
func Classes() []Class {
	return []Class{ClassSandbox, ClassInference, ClassStorage}
}

// Valid reports whether c is a known service class.
func (c Class) Valid() bool {
	switch c {
	case ClassSandbox, ClassInference, ClassStorage:
		return true
	}
	return false
}

// Provider is a point-in-time copy of one endpoint candidate's state.
// Lower Priority values are preferred. Mutation happens only inside the
// Registry via MarkResult; callers always receive copies.
type Provider struct {
	Name          string
	Endpoint      string
	Priority      int
	Healthy       bool
	FailureCount  int
	LastCheckedAt time.Time
	LastLatency   time.Duration
}

// ProviderRecord is the durable form of one provider's health fields.
type ProviderRecord struct {
	Name         string `json:"name"`
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	LatencyMS    int64  `json:"latency_ms"`
}

// ClassSnapshot is the durable record for one service class: provider
// health plus the identity of the currently selected provider.
type ClassSnapshot struct {
	Providers       []ProviderRecord `json:"providers"`
	CurrentProvider string           `json:"current_provider"`
	Timestamp       time.Time        `json:"timestamp"`
}
