// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tokenward/tokenward/internal/config"
	"github.com/tokenward/tokenward/internal/observability"
)

const testSecret = "cli-test-secret-0123456789abcdef0123"

// isolate points config discovery at an empty directory and clears globals.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configFile = ""
	t.Cleanup(func() { configFile = "" })
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Token.Secret = testSecret
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = ""
	cfg.Log.Level = "error"
	cfg.Password.HashMemoryKiB = 1024
	cfg.Password.HashThreads = 1
	return cfg
}

func quietCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd
}

type fakeServer struct {
	mu       sync.Mutex
	addr     string
	startErr error
	started  bool
	stopped  bool
	metrics  *observability.Metrics
}

func newFakeServer(addr string) *fakeServer {
	return &fakeServer{addr: addr, metrics: observability.NewMetrics(prometheus.NewRegistry())}
}

func (s *fakeServer) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.started = true
	return make(chan error), nil
}

func (s *fakeServer) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeServer) Addr() string                    { return s.addr }
func (s *fakeServer) Metrics() *observability.Metrics { return s.metrics }

func (s *fakeServer) state() (started, stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

type fakeMigrator struct {
	upErr    error
	upCalled bool
	closed   bool

	version  uint
	dirty    bool
	pending  []uint
	steps    []int
	downAll  bool
	forced   int
	forceSet bool
}

func (m *fakeMigrator) Up() error {
	m.upCalled = true
	return m.upErr
}

func (m *fakeMigrator) Down() error {
	m.downAll = true
	return nil
}

func (m *fakeMigrator) Steps(n int) error {
	m.steps = append(m.steps, n)
	return nil
}

func (m *fakeMigrator) Version() (uint, bool, error) { return m.version, m.dirty, nil }

func (m *fakeMigrator) Force(v int) error {
	m.forced, m.forceSet = v, true
	return nil
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

func (m *fakeMigrator) PendingMigrations() ([]uint, error) { return m.pending, nil }

// useMigrator swaps the migrate command's factory for the test.
func useMigrator(t *testing.T, m *fakeMigrator) *string {
	t.Helper()
	var gotURL string
	orig := newMigrator
	newMigrator = func(url string) (Migrator, error) {
		gotURL = url
		return m, nil
	}
	t.Cleanup(func() { newMigrator = orig })
	return &gotURL
}
