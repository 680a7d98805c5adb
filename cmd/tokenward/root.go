// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/tokenward/tokenward/internal/config"
	"github.com/tokenward/tokenward/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the tokenward CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokenward",
		Short: "tokenward - account and token service",
		Long: `tokenward manages user accounts, password hashing and signed,
purpose-tagged tokens behind a small JSON API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/tokenward/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewHashCmd())
	cmd.AddCommand(NewUsersCmd())

	return cmd
}

// configPath returns --config, or the XDG default when that file exists.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	if path, ok := xdg.DefaultConfigFile(); ok {
		return path
	}
	return ""
}

// loadConfig loads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Load(configPath(), cmd.Flags())
}

// readConfig loads the configuration for cmd without validating it.
func readConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Read(configPath(), cmd.Flags())
}
