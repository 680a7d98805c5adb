// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

// Package postgres stores accounts in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/tokenward/tokenward/internal/auth"
)

// Unique index names from the accounts migration.
const (
	emailConstraint    = "accounts_email_key"
	usernameConstraint = "accounts_username_key"
)

const accountColumns = `id, email, username, full_name, password_hash,
	is_active, is_verified, is_superuser, oauth_provider,
	created_at, updated_at, last_login`

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db Querier
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		account.ID.String(),
		account.Email,
		account.Username,
		account.FullName,
		account.PasswordHash,
		account.IsActive,
		account.IsVerified,
		account.IsSuperuser,
		account.OAuthProvider,
		account.CreatedAt,
		account.UpdatedAt,
		account.LastLogin,
	)
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(uniqueViolation(err))
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())
	return r.getOne(row, "id", id.String())
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email)
	return r.getOne(row, "email", email)
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(username) = LOWER($1)`, username)
	return r.getOne(row, "username", username)
}

func (r *AccountRepository) getOne(row pgx.Row, key, value string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With(key, value).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by "+key).
			With(key, value).
			Wrap(err)
	}
	return account, nil
}

// Update writes the columns set in changes in one statement and returns the
// resulting row.
func (r *AccountRepository) Update(ctx context.Context, id ulid.ULID, changes auth.AccountChanges) (*auth.Account, error) {
	args := []any{id.String()}
	set := make([]string, 0, 9)
	assign := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if changes.Email != nil {
		assign("email", *changes.Email)
	}
	switch {
	case changes.ClearUsername:
		set = append(set, "username = NULL")
	case changes.Username != nil:
		assign("username", *changes.Username)
	}
	if changes.FullName != nil {
		assign("full_name", *changes.FullName)
	}
	if changes.PasswordHash != nil {
		assign("password_hash", *changes.PasswordHash)
	}
	if changes.IsActive != nil {
		assign("is_active", *changes.IsActive)
	}
	if changes.IsVerified != nil {
		assign("is_verified", *changes.IsVerified)
	}
	if changes.IsSuperuser != nil {
		assign("is_superuser", *changes.IsSuperuser)
	}
	if changes.LastLogin != nil {
		assign("last_login", *changes.LastLogin)
	}
	if !changes.UpdatedAt.IsZero() {
		assign("updated_at", changes.UpdatedAt)
	}
	if len(set) == 0 {
		return r.GetByID(ctx, id)
	}

	where := "id = $1"
	if changes.IfPasswordHash != nil {
		args = append(args, *changes.IfPasswordHash)
		where += fmt.Sprintf(" AND password_hash = $%d", len(args))
	}

	row := r.db.QueryRow(ctx,
		`UPDATE accounts SET `+strings.Join(set, ", ")+` WHERE `+where+` RETURNING `+accountColumns,
		args...)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missedUpdate(ctx, id, changes.IfPasswordHash != nil)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("account_id", id.String()).
			Wrap(uniqueViolation(err))
	}
	return account, nil
}

// missedUpdate explains an UPDATE that matched no row: the account is gone,
// or a guarded update lost to a concurrent password change.
func (r *AccountRepository) missedUpdate(ctx context.Context, id ulid.ULID, guarded bool) error {
	if guarded {
		var exists bool
		err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id.String()).Scan(&exists)
		if err != nil {
			return oops.Code("ACCOUNT_UPDATE_FAILED").
				With("operation", "check account after conditional update").
				With("account_id", id.String()).
				Wrap(err)
		}
		if exists {
			return oops.Code("ACCOUNT_UPDATE_FAILED").
				With("account_id", id.String()).
				Wrap(auth.ErrConflict)
		}
	}
	return oops.Code("ACCOUNT_NOT_FOUND").
		With("account_id", id.String()).
		Wrap(auth.ErrNotFound)
}

// List returns accounts ordered by creation time.
func (r *AccountRepository) List(ctx context.Context, offset, limit int) ([]*auth.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "list accounts").
			Wrap(err)
	}
	defer rows.Close()

	accounts := make([]*auth.Account, 0, limit)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").
				With("operation", "scan account row").
				Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "iterate accounts").
			Wrap(err)
	}
	return accounts, nil
}

// uniqueViolation joins the matching duplicate sentinel onto err when it is
// a unique violation on one of the account indexes.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case emailConstraint:
		return errors.Join(err, auth.ErrDuplicateEmail)
	case usernameConstraint:
		return errors.Join(err, auth.ErrDuplicateUsername)
	default:
		return err
	}
}

// scanAccount scans one row. pgx.ErrNoRows is returned unwrapped.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr         string
		email         string
		username      *string
		fullName      string
		passwordHash  string
		isActive      bool
		isVerified    bool
		isSuperuser   bool
		oauthProvider *string
		createdAt     time.Time
		updatedAt     time.Time
		lastLogin     *time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&username,
		&fullName,
		&passwordHash,
		&isActive,
		&isVerified,
		&isSuperuser,
		&oauthProvider,
		&createdAt,
		&updatedAt,
		&lastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers add context
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	if lastLogin != nil {
		t := lastLogin.UTC()
		lastLogin = &t
	}

	return &auth.Account{
		ID:            id,
		Email:         email,
		Username:      username,
		FullName:      fullName,
		PasswordHash:  passwordHash,
		IsActive:      isActive,
		IsVerified:    isVerified,
		IsSuperuser:   isSuperuser,
		OAuthProvider: oauthProvider,
		CreatedAt:     createdAt.UTC(),
		UpdatedAt:     updatedAt.UTC(),
		LastLogin:     lastLogin,
	}, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
