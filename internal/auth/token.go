// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinSecretLength is the shortest accepted HMAC signing secret in bytes.
const MinSecretLength = 32

// Purpose constrains which operation a token may authorize.
type Purpose string

// Token purposes.
const (
	PurposeAccess            Purpose = "access"
	PurposeRefresh           Purpose = "refresh"
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeAccess, PurposeRefresh, PurposeEmailVerification, PurposePasswordReset:
		return true
	default:
		return false
	}
}

// Claims is the signed payload. Subject holds the account email; AccountID
// is empty for verification and reset tokens.
type Claims struct {
	AccountID string  `json:"uid,omitempty"`
	Purpose   Purpose `json:"typ"`
	jwt.RegisteredClaims
}

// Email returns the subject claim.
func (c *Claims) Email() string {
	return c.Subject
}

var signingMethods = map[string]*jwt.SigningMethodHMAC{
	jwt.SigningMethodHS256.Alg(): jwt.SigningMethodHS256,
	jwt.SigningMethodHS384.Alg(): jwt.SigningMethodHS384,
	jwt.SigningMethodHS512.Alg(): jwt.SigningMethodHS512,
}

// TokenCodec signs and verifies purpose-tagged tokens with a single secret.
// It holds no mutable state and is safe for concurrent use.
type TokenCodec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	issuer string
	now    func() time.Time
	logger *slog.Logger
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

// WithIssuer sets the iss claim written and required on decode.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) { c.issuer = issuer }
}

// WithCodecLogger sets the logger used for decode failure details.
func WithCodecLogger(logger *slog.Logger) CodecOption {
	return func(c *TokenCodec) { c.logger = logger }
}

// NewTokenCodec creates a codec for an HMAC algorithm (HS256, HS384, HS512).
func NewTokenCodec(secret []byte, algorithm string, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("AUTH_INVALID_SECRET").
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	method, ok := signingMethods[algorithm]
	if !ok {
		return nil, oops.Code("AUTH_INVALID_ALGORITHM").
			With("algorithm", algorithm).
			Errorf("unsupported signing algorithm: %s", algorithm)
	}

	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		method: method,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Now returns the codec's current time.
func (c *TokenCodec) Now() time.Time {
	return c.now()
}

// Encode signs claims with the given purpose and lifetime. IssuedAt,
// ExpiresAt, ID and Purpose in claims are overwritten.
func (c *TokenCodec) Encode(claims Claims, purpose Purpose, ttl time.Duration) (string, error) {
	if !purpose.Valid() {
		return "", oops.Code("AUTH_TOKEN_ENCODE_FAILED").
			With("purpose", string(purpose)).
			Errorf("unknown token purpose")
	}
	if ttl <= 0 {
		return "", oops.Code("AUTH_TOKEN_ENCODE_FAILED").
			With("ttl", ttl.String()).
			Errorf("token lifetime must be positive")
	}

	now := c.now()
	claims.Purpose = purpose
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.ID = ulid.Make().String()
	if c.issuer != "" {
		claims.Issuer = c.issuer
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_ENCODE_FAILED").
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return signed, nil
}

// Decode verifies signature, expiry and purpose tag. Every failure returns the
// same AUTH_INVALID_TOKEN error; the cause is only logged at debug level.
func (c *TokenCodec) Decode(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		c.logger.Debug("token rejected", "reason", decodeFailureReason(err))
		return nil, ErrInvalidToken()
	}
	if !parsed.Valid {
		c.logger.Debug("token rejected", "reason", "invalid")
		return nil, ErrInvalidToken()
	}
	if !claims.Purpose.Valid() {
		c.logger.Debug("token rejected", "reason", "unknown purpose", "jti", claims.ID)
		return nil, ErrInvalidToken()
	}
	return claims, nil
}

func decodeFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "issued in the future"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing claim"
	default:
		return "invalid"
	}
}
