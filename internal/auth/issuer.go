// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Default token lifetimes.
const (
	DefaultAccessTTL       = 15 * time.Minute
	DefaultRefreshTTL      = 7 * 24 * time.Hour
	DefaultVerificationTTL = 24 * time.Hour
	DefaultResetTTL        = time.Hour
)

// TokenTTLs holds the lifetime of each purpose. Zero fields use the defaults.
type TokenTTLs struct {
	Access       time.Duration
	Refresh      time.Duration
	Verification time.Duration
	Reset        time.Duration
}

func (t TokenTTLs) withDefaults() TokenTTLs {
	if t.Access <= 0 {
		t.Access = DefaultAccessTTL
	}
	if t.Refresh <= 0 {
		t.Refresh = DefaultRefreshTTL
	}
	if t.Verification <= 0 {
		t.Verification = DefaultVerificationTTL
	}
	if t.Reset <= 0 {
		t.Reset = DefaultResetTTL
	}
	return t
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
}

// TokenIssuer builds tokens for each purpose with its lifetime.
type TokenIssuer struct {
	codec   *TokenCodec
	ttls    TokenTTLs
	metrics Metrics
}

// NewTokenIssuer creates a TokenIssuer. metrics may be nil.
func NewTokenIssuer(codec *TokenCodec, ttls TokenTTLs, metrics Metrics) (*TokenIssuer, error) {
	if codec == nil {
		return nil, oops.Code("AUTH_INVALID_ISSUER").Errorf("token codec is required")
	}
	return &TokenIssuer{codec: codec, ttls: ttls.withDefaults(), metrics: metricsOrNop(metrics)}, nil
}

// TTLs returns the effective lifetimes.
func (i *TokenIssuer) TTLs() TokenTTLs {
	return i.ttls
}

func (i *TokenIssuer) issue(claims Claims, purpose Purpose, ttl time.Duration) (string, error) {
	token, err := i.codec.Encode(claims, purpose, ttl)
	if err != nil {
		return "", err
	}
	i.metrics.ObserveTokenIssued(string(purpose))
	return token, nil
}

func accountClaims(account *Account) Claims {
	c := Claims{AccountID: account.ID.String()}
	c.Subject = account.Email
	return c
}

func emailClaims(email string) Claims {
	c := Claims{}
	c.Subject = email
	return c
}

// IssueAccess issues an access token carrying email and account id.
func (i *TokenIssuer) IssueAccess(account *Account) (string, error) {
	return i.issue(accountClaims(account), PurposeAccess, i.ttls.Access)
}

// IssueRefresh issues a refresh token carrying email and account id.
func (i *TokenIssuer) IssueRefresh(account *Account) (string, error) {
	return i.issue(accountClaims(account), PurposeRefresh, i.ttls.Refresh)
}

// IssuePair issues an access and a refresh token.
func (i *TokenIssuer) IssuePair(account *Account) (*TokenPair, error) {
	access, err := i.IssueAccess(account)
	if err != nil {
		return nil, err
	}
	refresh, err := i.IssueRefresh(account)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(i.ttls.Access / time.Second),
	}, nil
}

// IssueEmailVerification issues a verification token carrying only the email.
func (i *TokenIssuer) IssueEmailVerification(email string) (string, error) {
	return i.issue(emailClaims(email), PurposeEmailVerification, i.ttls.Verification)
}

// IssuePasswordReset issues a reset token carrying only the email.
func (i *TokenIssuer) IssuePasswordReset(email string) (string, error) {
	return i.issue(emailClaims(email), PurposePasswordReset, i.ttls.Reset)
}

// Codec returns the codec tokens are encoded with.
func (i *TokenIssuer) Codec() *TokenCodec {
	return i.codec
}
