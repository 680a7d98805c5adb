// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokenward/tokenward/internal/api"
	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/internal/auth/memory"
	"github.com/tokenward/tokenward/internal/auth/postgres"
	"github.com/tokenward/tokenward/internal/config"
	"github.com/tokenward/tokenward/internal/logging"
	"github.com/tokenward/tokenward/internal/observability"
	"github.com/tokenward/tokenward/pkg/errutil"
)

const (
	serviceName     = "tokenward"
	shutdownTimeout = 5 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the JSON API together with the metrics and health server.
Without a database URL accounts are kept in memory and lost on exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps starts the service with injectable dependencies and blocks
// until a signal arrives, ctx is cancelled or a server fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	logger.Info("starting tokenward",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"config", cfg.Redacted(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load, logger)
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	accounts, closeStore, err := openAccountStore(ctx, cfg.Database, deps, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, err := deps.NotifierFactory(cfg.Notify, logger)
	if err != nil {
		return oops.Code("NOTIFIER_INIT_FAILED").With("operation", "create notifier").Wrap(err)
	}
	dispatcher := auth.NewDispatcher(notifier, auth.DispatcherConfig{}, metrics, logger)

	authn, svc, err := buildAuth(cfg, accounts, dispatcher, metrics, logger)
	if err != nil {
		return err
	}

	apiServer, err := deps.APIServerFactory(api.Deps{
		Config:        cfg.HTTP,
		Accounts:      svc,
		Authenticator: authn,
		Observer:      metrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	apiErrCh, err := apiServer.Start()
	if err != nil {
		return oops.Code("API_START_FAILED").With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")
	logger.Info("api server started", "addr", apiServer.Addr())

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := apiServer.Stop(stopCtx); stopErr != nil {
				errutil.LogWarn(stopCtx, logger, "failed to stop api server during cleanup", stopErr)
			}
			return oops.Code("OBSERVABILITY_START_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("tokenward started")
	logger.Info("tokenward ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		errutil.LogWarn(shutdownCtx, logger, "error stopping api server", err)
	}
	// Pending verification and reset mail gets the rest of the budget.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		errutil.LogWarn(shutdownCtx, logger, "notifications still pending at shutdown", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogWarn(shutdownCtx, logger, "error stopping observability server", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// openAccountStore returns the configured repository and a function that
// releases it. An empty URL selects the in-memory store.
func openAccountStore(ctx context.Context, cfg config.DatabaseConfig, deps *ServeDeps, logger *slog.Logger) (auth.AccountRepository, func(), error) {
	if cfg.URL == "" {
		logger.Warn("no database configured, accounts are kept in memory")
		return memory.NewAccountRepository(), func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := autoMigrate(cfg.URL, deps, logger); err != nil {
			return nil, nil, err
		}
	}

	db, err := deps.DatabaseConnector(ctx, cfg.URL)
	if err != nil {
		return nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	logger.Info("connected to database")
	return postgres.NewAccountRepository(db), db.Close, nil
}

func autoMigrate(url string, deps *ServeDeps, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			errutil.LogWarn(context.Background(), logger, "failed to close migrator", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// buildAuth wires codec, issuer, hasher, authenticator and account service.
func buildAuth(
	cfg config.Config,
	accounts auth.AccountRepository,
	notifier auth.NotificationDispatcher,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*auth.Authenticator, *auth.AccountService, error) {
	codec, err := auth.NewTokenCodec([]byte(cfg.Token.Secret), cfg.Token.Algorithm,
		auth.WithIssuer(cfg.Token.Issuer),
		auth.WithCodecLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	issuer, err := auth.NewTokenIssuer(codec, auth.TokenTTLs{
		Access:       cfg.Token.AccessTTL,
		Refresh:      cfg.Token.RefreshTTL,
		Verification: cfg.Token.VerificationTTL,
		Reset:        cfg.Token.ResetTTL,
	}, metrics)
	if err != nil {
		return nil, nil, err
	}

	authn, err := auth.NewAuthenticator(codec, accounts, metrics, logger)
	if err != nil {
		return nil, nil, err
	}

	svc, err := auth.NewAccountService(auth.AccountServiceDeps{
		Accounts: accounts,
		Hasher:   auth.NewHashPool(newHasher(cfg.Password), cfg.Password.MaxConcurrent),
		Policy:   auth.NewPasswordPolicy(cfg.Password.MinLength),
		Issuer:   issuer,
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return authn, svc, nil
}

// newHasher returns the argon2id hasher for cfg that still verifies bcrypt.
func newHasher(cfg config.PasswordConfig) *auth.MultiHasher {
	return auth.NewMultiHasher(auth.NewArgon2idHasher(auth.Argon2Params{
		Time:      cfg.HashTime,
		MemoryKiB: cfg.HashMemoryKiB,
		Threads:   cfg.HashThreads,
	}))
}

// monitorServerErrors cancels ctx when a server reports an error.
// It exits when an error is received, the channel is closed, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
