// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

// Package config loads the process-wide tokenward configuration.
//
// Values are layered defaults < YAML file < TOKENWARD_* environment < flags.
// The result is validated once at startup and passed by value afterwards.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Nested keys use a double underscore: TOKENWARD_TOKEN__SECRET -> token.secret.
const EnvPrefix = "TOKENWARD_"

// MinSecretLength is the minimum accepted signing secret length in bytes.
const MinSecretLength = 32

// Config is the full runtime configuration.
type Config struct {
	Log      LogConfig      `koanf:"log" yaml:"log"`
	HTTP     HTTPConfig     `koanf:"http" yaml:"http"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Token    TokenConfig    `koanf:"token" yaml:"token"`
	Password PasswordConfig `koanf:"password" yaml:"password"`
	Notify   NotifyConfig   `koanf:"notify" yaml:"notify"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// HTTPConfig controls the public API server.
type HTTPConfig struct {
	Addr               string        `koanf:"addr" yaml:"addr"`
	ReadTimeout        time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	RateLimitPerMinute int           `koanf:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`

	// Stricter per-IP limits on credential endpoints. A zero limit disables one.
	LoginRateLimit  int           `koanf:"login_rate_limit" yaml:"login_rate_limit"`
	LoginRateWindow time.Duration `koanf:"login_rate_window" yaml:"login_rate_window"`
	ResetRateLimit  int           `koanf:"reset_rate_limit" yaml:"reset_rate_limit"`
	ResetRateWindow time.Duration `koanf:"reset_rate_window" yaml:"reset_rate_window"`
}

// MetricsConfig controls the observability server. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// DatabaseConfig selects the account store. Empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL         string `koanf:"url" yaml:"url"`
	AutoMigrate bool   `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// TokenConfig holds the signing secret and per-purpose lifetimes.
type TokenConfig struct {
	Secret          string        `koanf:"secret" yaml:"secret"`
	Algorithm       string        `koanf:"algorithm" yaml:"algorithm"`
	Issuer          string        `koanf:"issuer" yaml:"issuer"`
	AccessTTL       time.Duration `koanf:"access_ttl" yaml:"access_ttl"`
	RefreshTTL      time.Duration `koanf:"refresh_ttl" yaml:"refresh_ttl"`
	VerificationTTL time.Duration `koanf:"verification_ttl" yaml:"verification_ttl"`
	ResetTTL        time.Duration `koanf:"reset_ttl" yaml:"reset_ttl"`
}

// PasswordConfig holds the password policy and argon2id cost parameters.
type PasswordConfig struct {
	MinLength     int    `koanf:"min_length" yaml:"min_length"`
	HashTime      uint32 `koanf:"hash_time" yaml:"hash_time"`
	HashMemoryKiB uint32 `koanf:"hash_memory_kib" yaml:"hash_memory_kib"`
	HashThreads   uint8  `koanf:"hash_threads" yaml:"hash_threads"`
	MaxConcurrent int    `koanf:"max_concurrent" yaml:"max_concurrent"`
}

// NotifyConfig holds values used to build links in outgoing mail.
type NotifyConfig struct {
	BaseURL string `koanf:"base_url" yaml:"base_url"`
	// LogLinks logs full links, tokens included. For local development only.
	LogLinks bool `koanf:"log_links" yaml:"log_links"`
}

// Supported signing algorithms.
var algorithms = []string{"HS256", "HS384", "HS512"}

// Default returns the configuration used when nothing overrides it.
// The signing secret has no default.
func Default() Config {
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		HTTP: HTTPConfig{
			Addr:               ":8080",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			RateLimitPerMinute: 60,
			LoginRateLimit:     5,
			LoginRateWindow:    15 * time.Minute,
			ResetRateLimit:     3,
			ResetRateWindow:    time.Hour,
		},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{AutoMigrate: true},
		Token: TokenConfig{
			Algorithm:       "HS256",
			Issuer:          "tokenward",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			VerificationTTL: 24 * time.Hour,
			ResetTTL:        time.Hour,
		},
		Password: PasswordConfig{
			MinLength:     8,
			HashTime:      1,
			HashMemoryKiB: 64 * 1024,
			HashThreads:   4,
		},
		Notify: NotifyConfig{BaseURL: "http://localhost:5173"},
	}
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"log-format":   "log.format",
	"log-level":    "log.level",
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"auto-migrate": "database.auto_migrate",
}

// BindFlags registers the flags Load understands on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", d.Database.URL, "PostgreSQL URL (empty = in-memory store)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
}

// Load builds a Config from defaults, the optional YAML file at path, the
// environment and any changed flags in fs, then validates it. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg, err := Read(path, fs)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read layers the configuration like Load but skips validation. Tools that
// need only part of it, such as migrate, use it so an unset signing secret
// does not block them.
func Read(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").
				With("operation", "load config file").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").
			With("operation", "load environment").
			Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", nil, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").
			With("operation", "decode config").
			Wrap(err)
	}
	return cfg, nil
}

// envKey turns TOKENWARD_HTTP__READ_TIMEOUT into http.read_timeout.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	invalid := func(field string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	if c.HTTP.RateLimitPerMinute < 0 {
		return invalid("http.rate_limit_per_minute", "http.rate_limit_per_minute must not be negative")
	}
	for _, l := range []struct {
		field, windowField string
		limit              int
		window             time.Duration
	}{
		{"http.login_rate_limit", "http.login_rate_window", c.HTTP.LoginRateLimit, c.HTTP.LoginRateWindow},
		{"http.reset_rate_limit", "http.reset_rate_window", c.HTTP.ResetRateLimit, c.HTTP.ResetRateWindow},
	} {
		if l.limit < 0 {
			return invalid(l.field, "%s must not be negative", l.field)
		}
		if l.limit > 0 && l.window <= 0 {
			return invalid(l.windowField, "%s must be positive when %s is set", l.windowField, l.field)
		}
	}
	if c.Token.Secret == "" {
		return invalid("token.secret", "token.secret is required")
	}
	if len(c.Token.Secret) < MinSecretLength {
		return invalid("token.secret", "token.secret must be at least %d bytes", MinSecretLength)
	}
	if !slices.Contains(algorithms, c.Token.Algorithm) {
		return invalid("token.algorithm", "token.algorithm must be one of %v, got %q", algorithms, c.Token.Algorithm)
	}
	for field, ttl := range map[string]time.Duration{
		"token.access_ttl":       c.Token.AccessTTL,
		"token.refresh_ttl":      c.Token.RefreshTTL,
		"token.verification_ttl": c.Token.VerificationTTL,
		"token.reset_ttl":        c.Token.ResetTTL,
	} {
		if ttl <= 0 {
			return invalid(field, "%s must be positive", field)
		}
	}
	if c.Password.MinLength < 1 || c.Password.MinLength > 128 {
		return invalid("password.min_length", "password.min_length must be between 1 and 128")
	}
	if c.Password.HashTime == 0 || c.Password.HashMemoryKiB == 0 || c.Password.HashThreads == 0 {
		return invalid("password", "argon2id cost parameters must be positive")
	}
	if c.Password.MaxConcurrent < 0 {
		return invalid("password.max_concurrent", "password.max_concurrent must not be negative")
	}
	if u, err := url.Parse(c.Notify.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("notify.base_url", "notify.base_url must be an absolute http(s) URL, got %q", c.Notify.BaseURL)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Token.Secret != "" {
		c.Token.Secret = "[redacted]"
	}
	return c
}
