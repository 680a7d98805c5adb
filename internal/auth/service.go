// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/tokenward/tokenward/pkg/errutil"
)

// List bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 100
)

// dummyPasswordHash is verified when an email is unknown so that login takes
// the same time either way. It never matches any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// AccountServiceDeps are the collaborators of an AccountService.
type AccountServiceDeps struct {
	Accounts AccountRepository
	Hasher   *HashPool
	Policy   PasswordPolicy
	Issuer   *TokenIssuer
	Notifier NotificationDispatcher
	Metrics  Metrics
	Logger   *slog.Logger
}

// AccountService orchestrates the account lifecycle.
type AccountService struct {
	accounts AccountRepository
	hasher   *HashPool
	policy   PasswordPolicy
	issuer   *TokenIssuer
	notifier NotificationDispatcher
	metrics  Metrics
	logger   *slog.Logger

	dummyHash func() string
}

// NewAccountService creates an AccountService. Accounts, Hasher, Issuer and
// Notifier are required.
func NewAccountService(deps AccountServiceDeps) (*AccountService, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("account repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("hash pool is required")
	case deps.Issuer == nil:
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("token issuer is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("notification dispatcher is required")
	}
	if deps.Policy.MinLength <= 0 {
		deps.Policy = NewPasswordPolicy(deps.Policy.MinLength)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &AccountService{
		accounts: deps.Accounts,
		hasher:   deps.Hasher,
		policy:   deps.Policy,
		issuer:   deps.Issuer,
		notifier: deps.Notifier,
		metrics:  metricsOrNop(deps.Metrics),
		logger:   deps.Logger,
	}
	// The dummy is hashed with the live parameters so verifying it costs the
	// same as verifying a real hash.
	s.dummyHash = sync.OnceValue(func() string {
		h, err := deps.Hasher.hasher.Hash(ulid.Make().String())
		if err != nil {
			return dummyPasswordHash
		}
		return h
	})
	return s, nil
}

func (s *AccountService) now() time.Time {
	return s.issuer.Codec().Now().UTC()
}

// RegisterInput holds the fields accepted at registration.
type RegisterInput struct {
	Email    string
	Username *string
	FullName string
	Password string
}

// Register creates an active, unverified account and sends a verification
// mail. A failure to send does not fail registration.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}

	if err := s.ensureEmailFree(ctx, email, ulid.ULID{}); err != nil {
		return nil, err
	}
	if username != nil {
		if err := s.ensureUsernameFree(ctx, *username, ulid.ULID{}); err != nil {
			return nil, err
		}
	}

	if err := s.policy.Validate(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	account, err := NewAccount(email, username, strings.TrimSpace(in.FullName), hash, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, translateWriteError(err, account, "create account")
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	s.sendVerification(ctx, account)
	return account, nil
}

// Login checks credentials and issues a token pair. Unknown email and wrong
// password produce the same error after the same amount of hashing work.
func (s *AccountService) Login(ctx context.Context, email, password string) (*TokenPair, *Account, error) {
	var account *Account
	targetHash := ""

	normalized, normErr := NormalizeEmail(email)
	if normErr == nil {
		found, err := s.accounts.GetByEmail(ctx, normalized)
		switch {
		case err == nil:
			account = found
			targetHash = found.PasswordHash
		case errors.Is(err, ErrNotFound):
		default:
			s.metrics.ObserveLogin(LoginError)
			return nil, nil, oops.Code(CodeLookupFailed).
				With("operation", "get account by email").
				Wrap(err)
		}
	}

	exists := account != nil
	if !exists {
		targetHash = s.dummyHash()
	}

	// Always verify, even for unknown accounts.
	valid, verifyErr := s.hasher.Verify(ctx, password, targetHash)
	if verifyErr != nil && exists {
		s.metrics.ObserveLogin(LoginError)
		return nil, nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}

	if !exists || !valid {
		s.metrics.ObserveLogin(LoginInvalidCredentials)
		return nil, nil, ErrInvalidCredentials()
	}

	// Checked after verification to keep timing uniform.
	if !account.IsActive {
		s.metrics.ObserveLogin(LoginInactive)
		return nil, nil, ErrAccountInactive()
	}

	now := s.now()
	verifiedHash := account.PasswordHash
	// Only the login columns are written; a deactivation or reset committed
	// since the lookup survives and is seen in the returned row.
	if stamped, err := s.accounts.Update(ctx, account.ID, AccountChanges{LastLogin: &now, UpdatedAt: now}); err != nil {
		errutil.LogWarn(ctx, s.logger, "failed to record login", err)
		account.LastLogin = &now
	} else {
		account = stamped
	}

	if account.PasswordHash != verifiedHash {
		s.metrics.ObserveLogin(LoginInvalidCredentials)
		return nil, nil, ErrInvalidCredentials()
	}
	if !account.IsActive {
		s.metrics.ObserveLogin(LoginInactive)
		return nil, nil, ErrAccountInactive()
	}

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		s.upgradeHash(ctx, account, password)
	}

	pair, err := s.issuer.IssuePair(account)
	if err != nil {
		s.metrics.ObserveLogin(LoginError)
		return nil, nil, err
	}

	s.metrics.ObserveLogin(LoginSuccess)
	return pair, account, nil
}

// upgradeHash rehashes password with the current parameters. The write only
// lands if the stored hash is still the one that was verified.
func (s *AccountService) upgradeHash(ctx context.Context, account *Account, password string) {
	newHash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "password rehash failed", err)
		return
	}
	current := account.PasswordHash
	updated, err := s.accounts.Update(ctx, account.ID, AccountChanges{
		PasswordHash:   &newHash,
		IfPasswordHash: &current,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.DebugContext(ctx, "password changed during rehash, keeping stored hash",
				"account_id", account.ID.String())
			return
		}
		errutil.LogWarn(ctx, s.logger, "failed to store rehashed password", err)
		return
	}
	*account = *updated
}

// Refresh exchanges a refresh token for a new pair. The old refresh token is
// not revoked and stays valid until it expires.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := decodeFor(s.issuer.Codec(), refreshToken, PurposeRefresh)
	if err != nil {
		return nil, err
	}
	id, err := requireAccountClaims(claims)
	if err != nil {
		return nil, err
	}

	account, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrAccountInactive()
	}

	return s.issuer.IssuePair(account)
}

// VerifyEmail marks the token's account as verified. Verifying twice is not
// an error; alreadyVerified reports the second case.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (alreadyVerified bool, err error) {
	account, err := s.accountForEmailToken(ctx, token, PurposeEmailVerification)
	if err != nil {
		return false, err
	}
	if account.IsVerified {
		return true, nil
	}

	verified := true
	if _, err := s.accounts.Update(ctx, account.ID, AccountChanges{IsVerified: &verified, UpdatedAt: s.now()}); err != nil {
		return false, translateWriteError(err, account, "mark email verified")
	}
	return false, nil
}

// ResendVerification sends a new verification mail unless the account is
// already verified.
func (s *AccountService) ResendVerification(ctx context.Context, account *Account) (alreadyVerified bool, err error) {
	if account.IsVerified {
		return true, nil
	}
	token, err := s.issuer.IssueEmailVerification(account.Email)
	if err != nil {
		return false, err
	}
	s.notifier.DispatchVerification(ctx, account.ID, account.Email, token)
	return false, nil
}

// ForgotPassword sends a reset mail when an active account has the email.
// The result is the same whether or not it does; only a syntactically invalid
// email is reported.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			errutil.LogWarn(ctx, s.logger, "password reset lookup failed", err)
		}
		return nil
	}
	if !account.IsActive {
		return nil
	}

	token, err := s.issuer.IssuePasswordReset(account.Email)
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "password reset token failed", err)
		return nil
	}
	s.notifier.DispatchPasswordReset(ctx, account.ID, account.Email, token)
	return nil
}

// ResetPassword sets a new password for the account named by a reset token.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := decodeFor(s.issuer.Codec(), token, PurposePasswordReset)
	if err != nil {
		return err
	}
	if claims.Subject == "" {
		return ErrMalformedClaims("sub")
	}

	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}

	account, err := s.getByEmail(ctx, claims.Subject)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, account, newPassword, nil)
}

// ChangePassword replaces the password after checking the current one.
func (s *AccountService) ChangePassword(ctx context.Context, account *Account, current, newPassword string) error {
	valid, err := s.hasher.Verify(ctx, current, account.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	if !valid {
		return oops.Code(CodeInvalidCredentials).Errorf("incorrect password")
	}

	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}
	// The current password was checked against this hash; a reset that landed
	// in between wins.
	verified := account.PasswordHash
	return s.setPassword(ctx, account, newPassword, &verified)
}

// setPassword stores a hash of password. With ifHash set the write only
// happens while the stored hash still equals it.
func (s *AccountService) setPassword(ctx context.Context, account *Account, password string, ifHash *string) error {
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return err
	}
	updated, err := s.accounts.Update(ctx, account.ID, AccountChanges{
		PasswordHash:   &hash,
		UpdatedAt:      s.now(),
		IfPasswordHash: ifHash,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return oops.Code(CodeInvalidCredentials).Errorf("incorrect password")
		}
		return translateWriteError(err, account, "update password")
	}
	*account = *updated
	return nil
}

// ProfileUpdate holds optional profile changes. Nil fields are left alone;
// an empty Username clears it.
type ProfileUpdate struct {
	Username *string
	Email    *string
	FullName *string
}

// UpdateProfile applies changes to account. Changing the email clears the
// verified flag and sends a new verification mail.
func (s *AccountService) UpdateProfile(ctx context.Context, account *Account, upd ProfileUpdate) (*Account, error) {
	changes := AccountChanges{}
	emailChanged := false

	if upd.Username != nil {
		username, err := normalizeUsername(upd.Username)
		if err != nil {
			return nil, err
		}
		if username == nil {
			changes.ClearUsername = true
		} else {
			if !strings.EqualFold(*username, account.UsernameOrEmpty()) {
				if err := s.ensureUsernameFree(ctx, *username, account.ID); err != nil {
					return nil, err
				}
			}
			changes.Username = username
		}
	}

	if upd.Email != nil {
		email, err := NormalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		if email != account.Email {
			if err := s.ensureEmailFree(ctx, email, account.ID); err != nil {
				return nil, err
			}
			unverified := false
			changes.Email = &email
			changes.IsVerified = &unverified
			emailChanged = true
		}
	}

	if upd.FullName != nil {
		fullName := strings.TrimSpace(*upd.FullName)
		changes.FullName = &fullName
	}

	changes.UpdatedAt = s.now()
	updated, err := s.accounts.Update(ctx, account.ID, changes)
	if err != nil {
		attempted := account.Clone()
		changes.Apply(attempted)
		return nil, translateWriteError(err, attempted, "update profile")
	}

	if emailChanged {
		s.sendVerification(ctx, updated)
	}
	return updated, nil
}

// Deactivate soft-deletes the account. The record is kept.
func (s *AccountService) Deactivate(ctx context.Context, account *Account) error {
	inactive := false
	updated, err := s.accounts.Update(ctx, account.ID, AccountChanges{IsActive: &inactive, UpdatedAt: s.now()})
	if err != nil {
		return translateWriteError(err, account, "deactivate account")
	}
	*account = *updated
	s.logger.InfoContext(ctx, "account deactivated", "account_id", account.ID.String())
	return nil
}

// SetSuperuser grants or revokes superuser rights on the account with email.
// There is no API route for this; operators use the CLI.
func (s *AccountService) SetSuperuser(ctx context.Context, email string, superuser bool) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	account, err := s.getByEmail(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if account.IsSuperuser == superuser {
		return account, nil
	}
	updated, err := s.accounts.Update(ctx, account.ID, AccountChanges{IsSuperuser: &superuser, UpdatedAt: s.now()})
	if err != nil {
		return nil, translateWriteError(err, account, "set superuser")
	}
	s.logger.InfoContext(ctx, "superuser changed",
		"account_id", updated.ID.String(),
		"superuser", superuser,
	)
	return updated, nil
}

// GetAccount returns an account by id.
func (s *AccountService) GetAccount(ctx context.Context, id ulid.ULID) (*Account, error) {
	return s.getByID(ctx, id)
}

// ListAccounts returns a page of accounts. limit is clamped to 1..MaxListLimit,
// with 0 meaning DefaultListLimit.
func (s *AccountService) ListAccounts(ctx context.Context, offset, limit int) ([]*Account, error) {
	if offset < 0 {
		offset = 0
	}
	switch {
	case limit == 0:
		limit = DefaultListLimit
	case limit < 1:
		limit = 1
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	accounts, err := s.accounts.List(ctx, offset, limit)
	if err != nil {
		return nil, oops.Code(CodeLookupFailed).
			With("operation", "list accounts").
			Wrap(err)
	}
	return accounts, nil
}

// sendVerification issues a verification token and hands it to the
// dispatcher. Failures are logged only.
func (s *AccountService) sendVerification(ctx context.Context, account *Account) {
	token, err := s.issuer.IssueEmailVerification(account.Email)
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "verification token failed", err)
		return
	}
	s.notifier.DispatchVerification(ctx, account.ID, account.Email, token)
}

func (s *AccountService) accountForEmailToken(ctx context.Context, token string, purpose Purpose) (*Account, error) {
	claims, err := decodeFor(s.issuer.Codec(), token, purpose)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrMalformedClaims("sub")
	}
	return s.getByEmail(ctx, claims.Subject)
}

func (s *AccountService) getByID(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotFound()
		}
		return nil, oops.Code(CodeLookupFailed).
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

func (s *AccountService) getByEmail(ctx context.Context, email string) (*Account, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotFound()
		}
		return nil, oops.Code(CodeLookupFailed).
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// ensureEmailFree fails when another account than self holds email.
func (s *AccountService) ensureEmailFree(ctx context.Context, email string, self ulid.ULID) error {
	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.ID != self {
			return ErrEmailTaken(email)
		}
		return nil
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return oops.Code(CodeLookupFailed).
			With("operation", "check email").
			Wrap(err)
	}
}

// ensureUsernameFree fails when another account than self holds username.
func (s *AccountService) ensureUsernameFree(ctx context.Context, username string, self ulid.ULID) error {
	existing, err := s.accounts.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if existing.ID != self {
			return ErrUsernameTaken(username)
		}
		return nil
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return oops.Code(CodeLookupFailed).
			With("operation", "check username").
			Wrap(err)
	}
}

// normalizeUsername trims u and validates it. A nil or blank username is nil.
func normalizeUsername(u *string) (*string, error) {
	if u == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*u)
	if trimmed == "" {
		return nil, nil
	}
	if err := ValidateUsername(trimmed); err != nil {
		return nil, err
	}
	return &trimmed, nil
}

// translateWriteError maps store uniqueness violations to the caller-facing
// duplicate errors.
func translateWriteError(err error, account *Account, operation string) error {
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		return ErrEmailTaken(account.Email)
	case errors.Is(err, ErrDuplicateUsername):
		return ErrUsernameTaken(account.UsernameOrEmpty())
	case errors.Is(err, ErrNotFound):
		return ErrAccountNotFound()
	default:
		return oops.Code(CodeUpdateFailed).
			With("operation", operation).
			With("account_id", account.ID.String()).
			Wrap(err)
	}
}
