// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

// Package auth implements the credential and token lifecycle.
//
// # Primitives
//
//   - PasswordHasher - argon2id (default) and bcrypt password hashes
//   - PasswordPolicy - acceptance rules applied before hashing
//   - TokenCodec - signed, purpose-tagged JWTs
//   - TokenIssuer - per-purpose lifetimes on top of the codec
//
// # Services
//
//   - Authenticator - resolves a bearer token to an active Account
//   - AccountService - register, login, refresh, verification, password flows
//
// Tokens are stateless: validity is signature, expiry and purpose. There is
// no revocation list, so a refresh token stays usable until it expires.
//
// Errors carry oops codes (see errors.go). Repositories report absence by
// wrapping ErrNotFound and uniqueness violations by wrapping
// ErrDuplicateEmail or ErrDuplicateUsername.
package auth
