// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/internal/auth/postgres"
	"github.com/tokenward/tokenward/internal/config"
	"github.com/tokenward/tokenward/internal/store"
)

// openAccounts is replaced in tests.
var openAccounts = func(ctx context.Context, url string) (auth.AccountRepository, func(), error) {
	pool, err := store.Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewAccountRepository(pool), pool.Close, nil
}

// noMail drops notifications; admin commands never send mail.
type noMail struct{}

func (noMail) DispatchVerification(context.Context, ulid.ULID, string, string)  {}
func (noMail) DispatchPasswordReset(context.Context, ulid.ULID, string, string) {}

// NewUsersCmd creates the users command group.
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Administer accounts in the database",
	}

	cmd.AddCommand(newSuperuserCmd("promote", "Grant superuser rights to an account", true))
	cmd.AddCommand(newSuperuserCmd("demote", "Revoke superuser rights from an account", false))

	var skip, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts in creation order",
		Args:  cobra.NoArgs,
		RunE: withAccountService(func(cmd *cobra.Command, svc *auth.AccountService, _ []string) error {
			accounts, err := svc.ListAccounts(cmd.Context(), skip, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tEMAIL\tACTIVE\tVERIFIED\tSUPERUSER\tCREATED")
			for _, a := range accounts {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\t%s\n",
					a.ID, a.Email, a.IsActive, a.IsVerified, a.IsSuperuser,
					a.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}
	list.Flags().IntVar(&skip, "skip", 0, "accounts to skip")
	list.Flags().IntVar(&limit, "limit", auth.DefaultListLimit, "maximum accounts to list")
	cmd.AddCommand(list)

	return cmd
}

func newSuperuserCmd(use, short string, superuser bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withAccountService(func(cmd *cobra.Command, svc *auth.AccountService, args []string) error {
			account, err := svc.SetSuperuser(cmd.Context(), args[0], superuser)
			if err != nil {
				return err
			}
			cmd.Printf("%s superuser=%t\n", account.Email, account.IsSuperuser)
			return nil
		}),
	}
}

// withAccountService builds an AccountService over the configured database.
func withAccountService(fn func(cmd *cobra.Command, svc *auth.AccountService, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return oops.Code("CONFIG_INVALID").
				With("field", "database.url").
				Errorf("database.url is required (set --database-url or TOKENWARD_DATABASE__URL)")
		}

		accounts, closeFn, err := openAccounts(cmd.Context(), cfg.Database.URL)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		defer closeFn()

		svc, err := newAdminService(cfg, accounts)
		if err != nil {
			return err
		}
		return fn(cmd, svc, args)
	}
}

func newAdminService(cfg config.Config, accounts auth.AccountRepository) (*auth.AccountService, error) {
	codec, err := auth.NewTokenCodec([]byte(cfg.Token.Secret), cfg.Token.Algorithm, auth.WithIssuer(cfg.Token.Issuer))
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewTokenIssuer(codec, auth.TokenTTLs{}, nil)
	if err != nil {
		return nil, err
	}
	return auth.NewAccountService(auth.AccountServiceDeps{
		Accounts: accounts,
		Hasher:   auth.NewHashPool(newHasher(cfg.Password), 1),
		Policy:   auth.NewPasswordPolicy(cfg.Password.MinLength),
		Issuer:   issuer,
		Notifier: noMail{},
	})
}
