// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

// Login results reported to Metrics.
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginInactive           = "inactive"
	LoginError              = "error"
)

// Metrics receives counters from the auth services. The observability
// package provides the Prometheus implementation.
type Metrics interface {
	ObserveLogin(result string)
	ObserveTokenIssued(purpose string)
	ObserveRejection(code string)
	ObserveNotification(kind, status string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveLogin(string) {}
func (NopMetrics) ObserveTokenIssued(string) {}
func (NopMetrics) ObserveRejection(string) {}
func (NopMetrics) ObserveNotification(string, string) {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
