// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/internal/notify"
	"github.com/tokenward/tokenward/pkg/errutil"
)

func newToken(t *testing.T) (string, string) {
	t.Helper()
	codec, err := auth.NewTokenCodec([]byte("notify-test-secret-0123456789abcdef"), "HS256")
	require.NoError(t, err)
	token, err := codec.Encode(auth.Claims{}, auth.PurposeEmailVerification, time.Hour)
	require.NoError(t, err)
	claims, err := codec.Decode(token)
	require.NoError(t, err)
	return token, claims.ID
}

func captureLogs(t *testing.T) (*slog.Logger, func() map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return logger, func() map[string]any {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		return entry
	}
}

func TestNewLogNotifier_RejectsRelativeURL(t *testing.T) {
	_, err := notify.NewLogNotifier("/app")
	errutil.AssertErrorCode(t, err, "NOTIFY_INVALID_BASE_URL")
}

func TestLogNotifier_Link(t *testing.T) {
	n, err := notify.NewLogNotifier("https://app.example.com/ui/")
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com/ui/verify-email?token=abc.def-ghi_jkl",
		n.Link(notify.VerifyEmailPath, "abc.def-ghi_jkl"))
	assert.Equal(t, "https://app.example.com/ui/reset-password?token=xyz",
		n.Link(notify.ResetPasswordPath, "xyz"))
}

func TestLogNotifier_RedactsTokens(t *testing.T) {
	logger, entry := captureLogs(t)
	n, err := notify.NewLogNotifier("http://localhost:5173", notify.WithLogger(logger))
	require.NoError(t, err)

	token, jti := newToken(t)
	require.NoError(t, n.SendVerification(context.Background(), "alice@example.com", token))

	got := entry()
	assert.Equal(t, auth.NotificationVerification, got["kind"])
	assert.Equal(t, "alice@example.com", got["to"])
	assert.Equal(t, jti, got["jti"])
	assert.Equal(t, "http://localhost:5173/verify-email?token=%5Bredacted%5D", got["link"])
	assert.NotContains(t, got["link"], token)
}

func TestLogNotifier_ShowsLinksWhenAsked(t *testing.T) {
	logger, entry := captureLogs(t)
	n, err := notify.NewLogNotifier("http://localhost:5173", notify.WithLogger(logger), notify.WithLinks(true))
	require.NoError(t, err)

	token, _ := newToken(t)
	require.NoError(t, n.SendPasswordReset(context.Background(), "alice@example.com", token))

	got := entry()
	assert.Equal(t, auth.NotificationPasswordReset, got["kind"])
	assert.Equal(t, "http://localhost:5173/reset-password?token="+token, got["link"])
}

func TestLogNotifier_CancelledContext(t *testing.T) {
	n, err := notify.NewLogNotifier("http://localhost:5173")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = n.SendVerification(ctx, "alice@example.com", "token")
	errutil.AssertErrorCode(t, err, "NOTIFY_FAILED")
}

func TestTokenID(t *testing.T) {
	token, jti := newToken(t)
	assert.Equal(t, jti, notify.TokenID(token))
	assert.Empty(t, notify.TokenID("garbage"))
}
