// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokenward/tokenward/internal/auth"
)

type contextKey string

const ctxKeyAccount contextKey = "account"

// accountFrom returns the account stored by requireAuth or optionalAuth.
func accountFrom(ctx context.Context) *auth.Account {
	account, _ := ctx.Value(ctxKeyAccount).(*auth.Account)
	return account
}

func withAccount(ctx context.Context, account *auth.Account) context.Context {
	return context.WithValue(ctx, ctxKeyAccount, account)
}

// requireAuth resolves the bearer token with check and rejects the request
// when it fails.
func (s *Server) requireAuth(check auth.AuthFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.ParseBearer(r.Header.Get("Authorization"))
			if !ok {
				writeUnauthorized(w, "AUTH_NOT_AUTHENTICATED", "Not authenticated")
				return
			}
			account, err := check(r.Context(), token)
			if err != nil {
				s.writeServiceError(w, r, err, scopeBearer)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), account)))
		})
	}
}

// optionalAuth stores the account when a valid bearer token is present and
// never rejects.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := auth.ParseBearer(r.Header.Get("Authorization"))
		if account := s.authn.Optional(r.Context(), token); account != nil {
			r = r.WithContext(withAccount(r.Context(), account))
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request and counts it by route pattern.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		s.observer.ObserveHTTPRequest(route, wrapped.status)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.ErrorContext(r.Context(), "panic recovered in HTTP handler",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
				)
				writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
