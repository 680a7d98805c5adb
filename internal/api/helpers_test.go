// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tokenward/tokenward/internal/api"
	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/internal/auth/memory"
	"github.com/tokenward/tokenward/internal/config"
	"github.com/tokenward/tokenward/internal/observability"
)

const testSecret = "api-test-secret-0123456789abcdef012345"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mail struct {
	kind  string
	email string
	token string
}

type mailbox struct {
	mu   sync.Mutex
	sent []mail
}

func (m *mailbox) SendVerification(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail{auth.NotificationVerification, email, token})
	return nil
}

func (m *mailbox) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail{auth.NotificationPasswordReset, email, token})
	return nil
}

// latest returns the newest token of kind sent to email, or "".
func (m *mailbox) latest(kind, email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind && m.sent[i].email == email {
			return m.sent[i].token
		}
	}
	return ""
}

type env struct {
	t       *testing.T
	clock   *fakeClock
	repo    *memory.AccountRepository
	mailbox *mailbox
	metrics *observability.Metrics
	deps    api.Deps
	server  *api.Server
}

type envOption func(*config.HTTPConfig)

func withRateLimit(n int) envOption {
	return func(c *config.HTTPConfig) { c.RateLimitPerMinute = n }
}

func withLoginRateLimit(n int) envOption {
	return func(c *config.HTTPConfig) { c.LoginRateLimit = n }
}

func withResetRateLimit(n int) envOption {
	return func(c *config.HTTPConfig) { c.ResetRateLimit = n }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	e := &env{
		t:       t,
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		repo:    memory.NewAccountRepository(),
		mailbox: &mailbox{},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	codec, err := auth.NewTokenCodec([]byte(testSecret), "HS256", auth.WithClock(e.clock.Now))
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(codec, auth.TokenTTLs{}, e.metrics)
	require.NoError(t, err)

	dispatcher := auth.NewDispatcher(e.mailbox, auth.DispatcherConfig{BaseDelay: time.Millisecond}, e.metrics, logger)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	authn, err := auth.NewAuthenticator(codec, e.repo, e.metrics, logger)
	require.NoError(t, err)

	svc, err := auth.NewAccountService(auth.AccountServiceDeps{
		Accounts: e.repo,
		Hasher:   auth.NewHashPool(auth.NewMultiHasher(auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1})), 2),
		Policy:   auth.NewPasswordPolicy(8),
		Issuer:   issuer,
		Notifier: dispatcher,
		Metrics:  e.metrics,
		Logger:   logger,
	})
	require.NoError(t, err)

	httpCfg := config.Default().HTTP
	httpCfg.RateLimitPerMinute = 0
	httpCfg.LoginRateLimit = 0
	httpCfg.ResetRateLimit = 0
	for _, opt := range opts {
		opt(&httpCfg)
	}

	e.deps = api.Deps{
		Config:        httpCfg,
		Accounts:      svc,
		Authenticator: authn,
		Observer:      e.metrics,
		Logger:        logger,
	}
	e.server, err = api.NewServer(e.deps)
	require.NoError(t, err)
	return e
}

// serverOn builds a second server over the same services listening on addr.
func (e *env) serverOn(addr string) *api.Server {
	e.t.Helper()
	deps := e.deps
	deps.Config.Addr = addr
	srv, err := api.NewServer(deps)
	require.NoError(e.t, err)
	return srv
}

// do sends a request through the router. body may be nil, a string of raw
// JSON, or a value to encode.
func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(e.t, err)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// waitForMail polls until a token of kind reaches email.
func (e *env) waitForMail(kind, email string) string {
	e.t.Helper()
	var token string
	require.Eventually(e.t, func() bool {
		token = e.mailbox.latest(kind, email)
		return token != ""
	}, 2*time.Second, 5*time.Millisecond)
	return token
}

// register creates an account through the API and returns its JSON view.
func (e *env) register(email, password string) map[string]any {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": email, "password": password})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[map[string]any](e.t, rec)
}

// login returns the token pair for valid credentials.
func (e *env) login(email, password string) auth.TokenPair {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": email, "password": password})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[auth.TokenPair](e.t, rec)
}

// promote makes the account with email a superuser directly in the store.
func (e *env) promote(email string) {
	e.t.Helper()
	ctx := context.Background()
	account, err := e.repo.GetByEmail(ctx, email)
	require.NoError(e.t, err)
	superuser := true
	_, err = e.repo.Update(ctx, account.ID, auth.AccountChanges{IsSuperuser: &superuser})
	require.NoError(e.t, err)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) api.Error {
	t.Helper()
	return decodeBody[api.Error](t, rec)
}
