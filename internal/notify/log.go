// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

// Package notify delivers account mail.
package notify

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/tokenward/tokenward/internal/auth"
)

// Link paths on the front end.
const (
	VerifyEmailPath   = "/verify-email"
	ResetPasswordPath = "/reset-password"
)

const redacted = "[redacted]"

// LogNotifier writes notifications to the log instead of sending mail.
// Tokens are identified by jti; full links are only logged with
// WithLinks(true).
type LogNotifier struct {
	baseURL   *url.URL
	logger    *slog.Logger
	showLinks bool
}

// Option configures a LogNotifier.
type Option func(*LogNotifier)

// WithLinks logs complete links, tokens included.
func WithLinks(show bool) Option {
	return func(n *LogNotifier) { n.showLinks = show }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(n *LogNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewLogNotifier creates a LogNotifier building links under baseURL.
func NewLogNotifier(baseURL string, opts ...Option) (*LogNotifier, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, oops.Code("NOTIFY_INVALID_BASE_URL").
			With("base_url", baseURL).
			Errorf("base url must be absolute")
	}
	n := &LogNotifier{baseURL: u, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// SendVerification logs an email verification link.
func (n *LogNotifier) SendVerification(ctx context.Context, email, token string) error {
	return n.send(ctx, auth.NotificationVerification, VerifyEmailPath, email, token)
}

// SendPasswordReset logs a password reset link.
func (n *LogNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	return n.send(ctx, auth.NotificationPasswordReset, ResetPasswordPath, email, token)
}

func (n *LogNotifier) send(ctx context.Context, kind, path, email, token string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("NOTIFY_FAILED").With("kind", kind).Wrap(err)
	}

	shown := redacted
	if n.showLinks {
		shown = token
	}
	n.logger.InfoContext(ctx, "notification",
		"kind", kind,
		"to", email,
		"jti", TokenID(token),
		"link", n.Link(path, shown),
	)
	return nil
}

// Link builds {base}{path}?token={token}.
func (n *LogNotifier) Link(path, token string) string {
	u := *n.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}

// TokenID returns the jti of a token without checking its signature, or ""
// when it cannot be read. It is only meant for log correlation.
func TokenID(token string) string {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.ID
}

var _ auth.Notifier = (*LogNotifier)(nil)
