// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenward/tokenward/internal/auth"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func stopServer(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	m := server.Metrics()
	m.ObserveLogin(auth.LoginSuccess)
	m.ObserveLogin(auth.LoginSuccess)
	m.ObserveTokenIssued(string(auth.PurposeAccess))
	m.ObserveRejection(auth.CodeInvalidToken)
	m.ObserveNotification(auth.NotificationVerification, "sent")
	m.ObserveHTTPRequest("/api/auth/login", http.StatusOK)

	code, body := get(t, server.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, code)

	for _, want := range []string{
		"# HELP",
		"go_",
		"process_",
		`tokenward_logins_total{result="success"} 2`,
		`tokenward_tokens_issued_total{purpose="access"} 1`,
		`tokenward_auth_rejections_total{code="AUTH_INVALID_TOKEN"} 1`,
		`tokenward_notifications_total{kind="verification",status="sent"} 1`,
		`tokenward_http_requests_total{route="/api/auth/login",status="200"} 1`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveHTTPRequest("", http.StatusNotFound)
	m.ObserveNotification(auth.NotificationPasswordReset, "failed")
	m.ObserveNotification(auth.NotificationPasswordReset, "failed")

	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("unmatched", "404")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("password_reset", "failed")), 0)
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name     string
		checker  ReadinessChecker
		path     string
		wantCode int
		wantBody string
	}{
		{"liveness", func() bool { return false }, "/healthz/liveness", http.StatusOK, "ok"},
		{"ready", func() bool { return true }, "/healthz/readiness", http.StatusOK, "ok"},
		{"not ready", func() bool { return false }, "/healthz/readiness", http.StatusServiceUnavailable, "not ready"},
		{"nil checker", nil, "/healthz/readiness", http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("127.0.0.1:0", tt.checker, nil)
			code, body := get(t, server.Handler(), tt.path)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(body))
		})
	}
}

func TestServer_StartServesOverTCP(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	_, err := server.Start()
	require.NoError(t, err)
	defer stopServer(t, server)

	require.NotEmpty(t, server.Addr())
	resp, err := http.Get("http://" + server.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	_, err := server.Start()
	require.NoError(t, err)
	defer stopServer(t, server)

	_, err = server.Start()
	assert.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	stopServer(t, server)
	stopServer(t, server)
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	defer stopServer(t, server)

	// Closing the listener makes Serve fail.
	require.NoError(t, server.listener.Close())

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve error was not reported")
	}
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	stopServer(t, server)

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error channel was not closed")
	}
}
