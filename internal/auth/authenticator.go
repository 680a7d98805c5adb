// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AuthFunc resolves a bearer token to an account.
type AuthFunc func(ctx context.Context, token string) (*Account, error)

// Check is an extra requirement applied to an authenticated account.
type Check func(*Account) error

// RequireActive rejects deactivated accounts.
func RequireActive(a *Account) error {
	if !a.IsActive {
		return ErrAccountInactive()
	}
	return nil
}

// RequireVerified rejects accounts that have not confirmed their email.
func RequireVerified(a *Account) error {
	if !a.IsVerified {
		return ErrEmailNotVerified()
	}
	return nil
}

// RequireSuperuser rejects accounts without superuser rights.
func RequireSuperuser(a *Account) error {
	if !a.IsSuperuser {
		return ErrForbidden()
	}
	return nil
}

// Authenticator turns bearer tokens into the acting account.
type Authenticator struct {
	codec    *TokenCodec
	accounts AccountRepository
	metrics  Metrics
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. metrics and logger may be nil.
func NewAuthenticator(codec *TokenCodec, accounts AccountRepository, metrics Metrics, logger *slog.Logger) (*Authenticator, error) {
	if codec == nil {
		return nil, oops.Code("AUTH_INVALID_AUTHENTICATOR").Errorf("token codec is required")
	}
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_AUTHENTICATOR").Errorf("account repository is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{codec: codec, accounts: accounts, metrics: metricsOrNop(metrics), logger: logger}, nil
}

// Authenticate decodes an access token, loads its account and requires it to
// be active.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Account, error) {
	account, err := a.authenticate(ctx, token)
	if err != nil {
		a.reject(ctx, err)
		return nil, err
	}
	return account, nil
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*Account, error) {
	claims, err := decodeFor(a.codec, token, PurposeAccess)
	if err != nil {
		return nil, err
	}

	id, err := requireAccountClaims(claims)
	if err != nil {
		return nil, err
	}

	account, err := a.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotFound()
		}
		return nil, oops.Code(CodeLookupFailed).
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(err)
	}

	if err := RequireActive(account); err != nil {
		return nil, err
	}
	return account, nil
}

// With returns an AuthFunc that applies checks after Authenticate.
func (a *Authenticator) With(checks ...Check) AuthFunc {
	return func(ctx context.Context, token string) (*Account, error) {
		account, err := a.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		for _, check := range checks {
			if err := check(account); err != nil {
				a.reject(ctx, err)
				return nil, err
			}
		}
		return account, nil
	}
}

// Active is Authenticate with an explicit active check.
func (a *Authenticator) Active(ctx context.Context, token string) (*Account, error) {
	return a.With(RequireActive)(ctx, token)
}

// Verified additionally requires a verified email.
func (a *Authenticator) Verified(ctx context.Context, token string) (*Account, error) {
	return a.With(RequireActive, RequireVerified)(ctx, token)
}

// Superuser additionally requires superuser rights.
func (a *Authenticator) Superuser(ctx context.Context, token string) (*Account, error) {
	return a.With(RequireActive, RequireSuperuser)(ctx, token)
}

// Optional returns the account, or nil when the token is absent or fails any
// check. It never returns an error.
func (a *Authenticator) Optional(ctx context.Context, token string) *Account {
	if token == "" {
		return nil
	}
	account, err := a.authenticate(ctx, token)
	if err != nil {
		a.logger.DebugContext(ctx, "optional authentication failed", "code", Code(err))
		return nil
	}
	return account
}

func (a *Authenticator) reject(ctx context.Context, err error) {
	code := Code(err)
	a.metrics.ObserveRejection(code)
	a.logger.DebugContext(ctx, "authentication rejected", "code", code)
}

// decodeFor decodes token and requires the given purpose.
func decodeFor(codec *TokenCodec, token string, purpose Purpose) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken()
	}
	claims, err := codec.Decode(token)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongTokenPurpose(purpose, claims.Purpose)
	}
	return claims, nil
}

// requireAccountClaims checks that an access or refresh token names both the
// email and a parseable account id.
func requireAccountClaims(claims *Claims) (ulid.ULID, error) {
	if claims.Subject == "" {
		return ulid.ULID{}, ErrMalformedClaims("sub")
	}
	if claims.AccountID == "" {
		return ulid.ULID{}, ErrMalformedClaims("uid")
	}
	id, err := ulid.Parse(claims.AccountID)
	if err != nil {
		return ulid.ULID{}, ErrMalformedClaims("uid")
	}
	return id, nil
}

// ParseBearer extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
