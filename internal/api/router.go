// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
)

// maxRequestBodySize caps JSON bodies at 64 KiB.
const maxRequestBodySize = 64 << 10

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	headers := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(headers.Handler)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(rateLimit(s.cfg.RateLimitPerMinute, time.Minute, "Too many requests"))

			r.Group(func(r chi.Router) {
				r.Use(rateLimit(s.cfg.LoginRateLimit, s.cfg.LoginRateWindow,
					"Too many authentication attempts, please try again later"))
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
			})
			r.With(rateLimit(s.cfg.ResetRateLimit, s.cfg.ResetRateWindow,
				"Too many password reset attempts, please try again later")).
				Post("/forgot-password", s.handleForgotPassword)

			r.Post("/refresh", s.handleRefresh)
			r.Post("/verify-email", s.handleVerifyEmail)
			r.Post("/reset-password", s.handleResetPassword)

			r.With(s.optionalAuth).Get("/status", s.handleStatus)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth(s.authn.Authenticate))
				r.Post("/resend-verification", s.handleResendVerification)
				r.Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth(s.authn.Authenticate))
				r.Get("/me", s.handleMe)
				r.Put("/me", s.handleUpdateMe)
				r.Put("/me/change-password", s.handleChangePassword)
				r.Delete("/me", s.handleDeleteMe)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth(s.authn.Superuser))
				r.Get("/", s.handleListUsers)
				r.Get("/{id}", s.handleGetUser)
			})
		})
	})

	return r
}

// rateLimit limits requests per client IP with its own counter. A limit of
// zero returns a pass-through middleware.
func rateLimit(limit int, window time.Duration, message string) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", message)
		}),
	)
}
