// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewHashCmd creates the hash subcommand.
func NewHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Hash a password read from stdin",
		Long: `Read one line from stdin and print its argon2id hash using the
configured cost parameters. Useful for seeding accounts by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				if err != nil {
					return oops.Code("HASH_INPUT_FAILED").Wrap(err)
				}
				return oops.Code("HASH_INPUT_FAILED").Errorf("password cannot be empty")
			}

			hash, err := newHasher(cfg.Password).Hash(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
