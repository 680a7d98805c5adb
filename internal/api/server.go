// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

// Package api serves the account HTTP API under /api.
//
// Lifecycle follows the observability server:
//
//	srv, err := api.NewServer(deps)
//	errCh, err := srv.Start()
//	defer srv.Stop(ctx)
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/internal/config"
)

// RequestObserver counts finished requests by route pattern and status.
type RequestObserver interface {
	ObserveHTTPRequest(route string, status int)
}

type nopObserver struct{}

func (nopObserver) ObserveHTTPRequest(string, int) {}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config        config.HTTPConfig
	Accounts      *auth.AccountService
	Authenticator *auth.Authenticator
	Observer      RequestObserver
	Logger        *slog.Logger
}

// Server is the public HTTP API.
type Server struct {
	cfg      config.HTTPConfig
	accounts *auth.AccountService
	authn    *auth.Authenticator
	observer RequestObserver
	logger   *slog.Logger
	validate *validator.Validate
	handler  http.Handler

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates the API server. Accounts and Authenticator are required.
func NewServer(deps Deps) (*Server, error) {
	if deps.Accounts == nil {
		return nil, oops.Code("API_INVALID_SERVER").Errorf("account service is required")
	}
	if deps.Authenticator == nil {
		return nil, oops.Code("API_INVALID_SERVER").Errorf("authenticator is required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		cfg:      deps.Config,
		accounts: deps.Accounts,
		authn:    deps.Authenticator,
		observer: deps.Observer,
		logger:   deps.Logger,
		validate: newValidator(),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handler returns the router. Useful for tests and for mounting elsewhere.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
// Serve failures after Start returns arrive on the channel, which is closed
// on shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("API_LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop waits for in-flight requests until ctx ends. Stopping a stopped
// server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}

	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
