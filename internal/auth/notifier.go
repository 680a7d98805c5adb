// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/tokenward/tokenward/pkg/errutil"
)

// Notifier delivers account mail. Implementations may block; callers go
// through a Dispatcher so request paths never wait on delivery.
type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// NotificationDispatcher queues notifications without blocking the caller.
// accountID identifies the recipient in logs; email is only used for delivery.
type NotificationDispatcher interface {
	DispatchVerification(ctx context.Context, accountID ulid.ULID, email, token string)
	DispatchPasswordReset(ctx context.Context, accountID ulid.ULID, email, token string)
}

// Notification kinds reported to Metrics.
const (
	NotificationVerification  = "verification"
	NotificationPasswordReset = "password_reset"
)

// Dispatcher defaults.
const (
	DefaultNotifyAttempts  = 3
	DefaultNotifyBaseDelay = 500 * time.Millisecond
	DefaultNotifyTimeout   = 30 * time.Second
)

// DispatcherConfig bounds the retry of a single notification.
type DispatcherConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// Dispatcher sends each notification in its own goroutine with bounded
// exponential retry. Failures are logged and counted, never returned.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	metrics  Metrics
	logger   *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. metrics and logger may be nil.
func NewDispatcher(notifier Notifier, cfg DispatcherConfig, metrics Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultNotifyAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultNotifyBaseDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultNotifyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		notifier: notifier,
		cfg:      cfg,
		metrics:  metricsOrNop(metrics),
		logger:   logger,
		base:     base,
		cancel:   cancel,
	}
}

// DispatchVerification sends a verification mail in the background.
func (d *Dispatcher) DispatchVerification(ctx context.Context, accountID ulid.ULID, email, token string) {
	d.dispatch(ctx, NotificationVerification, accountID, func(ctx context.Context) error {
		return d.notifier.SendVerification(ctx, email, token)
	})
}

// DispatchPasswordReset sends a password reset mail in the background.
func (d *Dispatcher) DispatchPasswordReset(ctx context.Context, accountID ulid.ULID, email, token string) {
	d.dispatch(ctx, NotificationPasswordReset, accountID, func(ctx context.Context) error {
		return d.notifier.SendPasswordReset(ctx, email, token)
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, kind string, accountID ulid.ULID, send func(context.Context) error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.ObserveNotification(kind, "dropped")
		d.logger.WarnContext(ctx, "notification dropped after shutdown", "kind", kind)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	// Keep request values such as the trace span, drop its cancellation.
	detached := context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(detached, d.cfg.Timeout)
		defer cancel()
		stop := context.AfterFunc(d.base, cancel)
		defer stop()

		backoff := retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), retry.NewExponential(d.cfg.BaseDelay))
		attempts := 0
		err := retry.Do(sendCtx, backoff, func(ctx context.Context) error {
			attempts++
			if err := send(ctx); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			d.metrics.ObserveNotification(kind, "failed")
			errutil.LogWarn(sendCtx, d.logger, "notification failed",
				oops.Code("NOTIFY_FAILED").
					With("kind", kind).
					With("account_id", accountID.String()).
					With("attempts", attempts).
					Wrap(err))
			return
		}
		d.metrics.ObserveNotification(kind, "sent")
	}()
}

// Close stops accepting notifications and waits for in-flight sends. If ctx
// ends first, pending sends are cancelled and ctx's error is returned once
// they have returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
