// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokenward/tokenward/internal/auth"
)

// Metrics holds the tokenward counters. It implements auth.Metrics.
type Metrics struct {
	LoginsTotal        *prometheus.CounterVec
	TokensIssuedTotal  *prometheus.CounterVec
	RejectionsTotal    *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenward_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenward_tokens_issued_total",
				Help: "Tokens issued by purpose",
			},
			[]string{"purpose"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenward_auth_rejections_total",
				Help: "Rejected authentications by error code",
			},
			[]string{"code"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenward_notifications_total",
				Help: "Notifications by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenward_http_requests_total",
				Help: "API requests by route pattern and status code",
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(
		m.LoginsTotal,
		m.TokensIssuedTotal,
		m.RejectionsTotal,
		m.NotificationsTotal,
		m.HTTPRequestsTotal,
	)
	return m
}

// ObserveLogin implements auth.Metrics.
func (m *Metrics) ObserveLogin(result string) {
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// ObserveTokenIssued implements auth.Metrics.
func (m *Metrics) ObserveTokenIssued(purpose string) {
	m.TokensIssuedTotal.WithLabelValues(purpose).Inc()
}

// ObserveRejection implements auth.Metrics.
func (m *Metrics) ObserveRejection(code string) {
	m.RejectionsTotal.WithLabelValues(code).Inc()
}

// ObserveNotification implements auth.Metrics.
func (m *Metrics) ObserveNotification(kind, status string) {
	m.NotificationsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveHTTPRequest counts one API request. route is the matched pattern,
// not the raw path, to keep cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

var _ auth.Metrics = (*Metrics)(nil)
