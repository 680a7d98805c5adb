// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/internal/auth/memory"
)

const testSecret = "test-secret-0123456789abcdef0123456789"

// fastParams keeps argon2id cheap in tests.
var fastParams = auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

type sentMail struct {
	kind  string
	email string
	token string
}

// recordingNotifier records sends and can be told to fail.
type recordingNotifier struct {
	mu    sync.Mutex
	sent  []sentMail
	calls int
	fail  int // number of leading calls that fail
}

func (n *recordingNotifier) record(kind, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.calls <= n.fail {
		return errors.New("smtp unavailable")
	}
	n.sent = append(n.sent, sentMail{kind: kind, email: email, token: token})
	return nil
}

func (n *recordingNotifier) SendVerification(_ context.Context, email, token string) error {
	return n.record(auth.NotificationVerification, email, token)
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	return n.record(auth.NotificationPasswordReset, email, token)
}

func (n *recordingNotifier) Sent() []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMail(nil), n.sent...)
}

func (n *recordingNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// countingMetrics records counters in maps.
type countingMetrics struct {
	mu            sync.Mutex
	logins        map[string]int
	issued        map[string]int
	rejections    map[string]int
	notifications map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		logins:        map[string]int{},
		issued:        map[string]int{},
		rejections:    map[string]int{},
		notifications: map[string]int{},
	}
}

func (m *countingMetrics) ObserveLogin(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[result]++
}

func (m *countingMetrics) ObserveTokenIssued(purpose string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued[purpose]++
}

func (m *countingMetrics) ObserveRejection(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[code]++
}

func (m *countingMetrics) ObserveNotification(kind, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[kind+"/"+status]++
}

func (m *countingMetrics) get(mp map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mp[key]
}

func newTestCodec(t *testing.T, clock *fakeClock) *auth.TokenCodec {
	t.Helper()
	codec, err := auth.NewTokenCodec([]byte(testSecret), "HS256", auth.WithClock(clock.Now), auth.WithIssuer("tokenward-test"))
	require.NoError(t, err)
	return codec
}

// fixture wires an AccountService against the memory store.
type fixture struct {
	clock      *fakeClock
	codec      *auth.TokenCodec
	issuer     *auth.TokenIssuer
	repo       *memory.AccountRepository
	notifier   *recordingNotifier
	dispatcher *auth.Dispatcher
	metrics    *countingMetrics
	auth       *auth.Authenticator
	svc        *auth.AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newFakeClock(),
		repo:     memory.NewAccountRepository(),
		notifier: &recordingNotifier{},
		metrics:  newCountingMetrics(),
	}
	f.codec = newTestCodec(t, f.clock)

	var err error
	f.issuer, err = auth.NewTokenIssuer(f.codec, auth.TokenTTLs{}, f.metrics)
	require.NoError(t, err)

	f.dispatcher = auth.NewDispatcher(f.notifier, auth.DispatcherConfig{BaseDelay: time.Millisecond}, f.metrics, nil)
	t.Cleanup(func() { _ = f.dispatcher.Close(context.Background()) })

	f.auth, err = auth.NewAuthenticator(f.codec, f.repo, f.metrics, nil)
	require.NoError(t, err)

	f.svc, err = auth.NewAccountService(auth.AccountServiceDeps{
		Accounts: f.repo,
		Hasher:   auth.NewHashPool(auth.NewMultiHasher(auth.NewArgon2idHasher(fastParams)), 2),
		Policy:   auth.NewPasswordPolicy(8),
		Issuer:   f.issuer,
		Notifier: f.dispatcher,
		Metrics:  f.metrics,
	})
	require.NoError(t, err)
	return f
}

// drain waits for all queued notifications.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Close(ctx))
}

func (f *fixture) register(t *testing.T, email, password string) *auth.Account {
	t.Helper()
	a, err := f.svc.Register(context.Background(), auth.RegisterInput{Email: email, Password: password})
	require.NoError(t, err)
	return a
}

func strPtr(s string) *string { return &s }
