// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is an identity with its credential and state flags.
// Accounts are never deleted, only deactivated.
type Account struct {
	ID            ulid.ULID
	Email         string
	Username      *string
	FullName      string
	PasswordHash  string
	IsActive      bool
	IsVerified    bool
	IsSuperuser   bool
	OAuthProvider *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLogin     *time.Time
}

// NewAccount creates an active, unverified account. email must already be
// normalized with NormalizeEmail.
func NewAccount(email string, username *string, fullName, passwordHash string, now time.Time) (*Account, error) {
	if email == "" {
		return nil, oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeInvalidHash).Errorf("password hash cannot be empty")
	}
	now = now.UTC()
	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Username != nil {
		u := *a.Username
		c.Username = &u
	}
	if a.OAuthProvider != nil {
		p := *a.OAuthProvider
		c.OAuthProvider = &p
	}
	if a.LastLogin != nil {
		t := *a.LastLogin
		c.LastLogin = &t
	}
	return &c
}

// UsernameOrEmpty returns the username or "" when unset.
func (a *Account) UsernameOrEmpty() string {
	if a.Username == nil {
		return ""
	}
	return *a.Username
}

// NormalizeEmail trims and lowercases an email address and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", oops.Code(CodeInvalidEmail).
			With("email", email).
			Errorf("invalid email address")
	}
	return email, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeInvalidUsername).
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// AccountRepository manages account persistence. Implementations must enforce
// email and username uniqueness themselves; service-level pre-checks only
// produce friendlier errors.
type AccountRepository interface {
	// Create stores a new account.
	// Returns an error wrapping ErrDuplicateEmail or ErrDuplicateUsername on conflict.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	// Returns an error wrapping ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// Update writes only the columns set in changes and returns the stored
	// account afterwards. Returns an error wrapping ErrNotFound for an unknown
	// id, ErrConflict when changes.IfPasswordHash no longer matches, and
	// ErrDuplicateEmail or ErrDuplicateUsername on conflict.
	Update(ctx context.Context, id ulid.ULID, changes AccountChanges) (*Account, error)

	// List returns accounts ordered by creation time.
	List(ctx context.Context, offset, limit int) ([]*Account, error)
}

// AccountChanges names the columns an update writes. Nil fields keep their
// stored value, so writers touching different columns never undo each other.
type AccountChanges struct {
	Email         *string
	Username      *string
	ClearUsername bool
	FullName      *string
	PasswordHash  *string
	IsActive      *bool
	IsVerified    *bool
	IsSuperuser   *bool
	LastLogin     *time.Time
	UpdatedAt     time.Time

	// IfPasswordHash makes the whole update conditional on the stored hash.
	IfPasswordHash *string
}

// Apply copies the set fields onto a.
func (c AccountChanges) Apply(a *Account) {
	if c.Email != nil {
		a.Email = *c.Email
	}
	if c.ClearUsername {
		a.Username = nil
	} else if c.Username != nil {
		u := *c.Username
		a.Username = &u
	}
	if c.FullName != nil {
		a.FullName = *c.FullName
	}
	if c.PasswordHash != nil {
		a.PasswordHash = *c.PasswordHash
	}
	if c.IsActive != nil {
		a.IsActive = *c.IsActive
	}
	if c.IsVerified != nil {
		a.IsVerified = *c.IsVerified
	}
	if c.IsSuperuser != nil {
		a.IsSuperuser = *c.IsSuperuser
	}
	if c.LastLogin != nil {
		t := *c.LastLogin
		a.LastLogin = &t
	}
	if !c.UpdatedAt.IsZero() {
		a.UpdatedAt = c.UpdatedAt
	}
}
