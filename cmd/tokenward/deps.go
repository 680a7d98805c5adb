// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/tokenward/tokenward/internal/api"
	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/internal/auth/postgres"
	"github.com/tokenward/tokenward/internal/config"
	"github.com/tokenward/tokenward/internal/notify"
	"github.com/tokenward/tokenward/internal/observability"
	"github.com/tokenward/tokenward/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseConnector opens the account database.
	// Default: store.Connect
	DatabaseConnector func(ctx context.Context, url string) (Database, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// NotifierFactory creates the mail transport.
	// Default: notify.NewLogNotifier
	NotifierFactory func(cfg config.NotifyConfig, logger *slog.Logger) (auth.Notifier, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// APIServerFactory creates the public API server.
	// Default: api.NewServer
	APIServerFactory func(deps api.Deps) (APIServer, error)
}

// withDefaults fills every nil factory.
func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.DatabaseConnector == nil {
		d.DatabaseConnector = func(ctx context.Context, url string) (Database, error) {
			return store.Connect(ctx, url)
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if d.NotifierFactory == nil {
		d.NotifierFactory = func(cfg config.NotifyConfig, logger *slog.Logger) (auth.Notifier, error) {
			return notify.NewLogNotifier(cfg.BaseURL,
				notify.WithLinks(cfg.LogLinks),
				notify.WithLogger(logger),
			)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if d.APIServerFactory == nil {
		d.APIServerFactory = func(deps api.Deps) (APIServer, error) {
			return api.NewServer(deps)
		}
	}
	return d
}

// Database wraps the methods used from *pgxpool.Pool.
type Database interface {
	postgres.Querier
	Close()
}

// AutoMigrator wraps the methods used from store.Migrator during startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer interface wraps the methods used from api.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
