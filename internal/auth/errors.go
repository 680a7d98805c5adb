// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/tokenward/tokenward/pkg/errutil"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is wrapped by repositories when the email unique constraint fires.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrDuplicateUsername is wrapped by repositories when the username unique constraint fires.
var ErrDuplicateUsername = errors.New("username already taken")

// ErrConflict is wrapped by repositories when a conditional update finds the
// row changed underneath it.
var ErrConflict = errors.New("account changed concurrently")

// Error codes surfaced to callers.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeWrongTokenPurpose  = "AUTH_WRONG_TOKEN_PURPOSE"
	CodeMalformedClaims    = "AUTH_MALFORMED_CLAIMS"
	CodeAccountNotFound    = "AUTH_ACCOUNT_NOT_FOUND"
	CodeAccountInactive    = "AUTH_ACCOUNT_INACTIVE"
	CodeEmailNotVerified   = "AUTH_EMAIL_NOT_VERIFIED"
	CodeForbidden          = "AUTH_FORBIDDEN"
	CodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	CodeDuplicateUsername  = "AUTH_DUPLICATE_USERNAME"
	CodeWeakPassword       = "AUTH_WEAK_PASSWORD"
	CodeHashingFailed      = "AUTH_HASHING_FAILED"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodeInvalidHash        = "AUTH_INVALID_HASH"
	CodeLookupFailed       = "AUTH_LOOKUP_FAILED"
	CodeUpdateFailed       = "AUTH_UPDATE_FAILED"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeInvalidUsername    = "AUTH_INVALID_USERNAME"
)

// Code returns the oops code attached to err, or "" if there is none.
func Code(err error) string {
	return errutil.Code(err)
}

// ErrInvalidCredentials is the single login failure. Unknown email and wrong
// password must be indistinguishable.
func ErrInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("incorrect email or password")
}

// ErrInvalidToken is the single token failure seen by callers.
func ErrInvalidToken() error {
	return oops.Code(CodeInvalidToken).Errorf("could not validate credentials")
}

// ErrWrongTokenPurpose reports a valid token used for the wrong operation.
func ErrWrongTokenPurpose(want, got Purpose) error {
	return oops.Code(CodeWrongTokenPurpose).
		With("want", string(want)).
		With("got", string(got)).
		Errorf("invalid token type")
}

// ErrMalformedClaims reports a signed token missing required claims.
func ErrMalformedClaims(missing string) error {
	return oops.Code(CodeMalformedClaims).
		With("missing", missing).
		Errorf("could not validate credentials")
}

// ErrAccountNotFound reports that the account a token refers to is gone.
func ErrAccountNotFound() error {
	return oops.Code(CodeAccountNotFound).Errorf("user not found")
}

// ErrAccountInactive reports a deactivated account.
func ErrAccountInactive() error {
	return oops.Code(CodeAccountInactive).Errorf("inactive user")
}

// ErrEmailNotVerified reports an account that has not confirmed its email.
func ErrEmailNotVerified() error {
	return oops.Code(CodeEmailNotVerified).Errorf("email not verified")
}

// ErrForbidden reports missing privileges.
func ErrForbidden() error {
	return oops.Code(CodeForbidden).Errorf("not enough permissions")
}

// ErrEmailTaken reports an email that is already registered.
func ErrEmailTaken(email string) error {
	return oops.Code(CodeDuplicateEmail).
		With("email", email).
		Errorf("email already registered")
}

// ErrUsernameTaken reports a username that is already taken.
func ErrUsernameTaken(username string) error {
	return oops.Code(CodeDuplicateUsername).
		With("username", username).
		Errorf("username already taken")
}

// PublicMessage returns the caller-facing message for err. Unknown and
// internal errors get a generic message.
func PublicMessage(err error) string {
	switch Code(err) {
	case CodeInvalidCredentials:
		return "Incorrect email or password"
	case CodeInvalidToken, CodeMalformedClaims:
		return "Could not validate credentials"
	case CodeWrongTokenPurpose:
		return "Invalid token type"
	case CodeAccountNotFound:
		return "User not found"
	case CodeAccountInactive:
		return "Inactive user"
	case CodeEmailNotVerified:
		return "Email not verified"
	case CodeForbidden:
		return "Not enough permissions"
	case CodeDuplicateEmail:
		return "Email already registered"
	case CodeDuplicateUsername:
		return "Username already taken"
	case CodeWeakPassword:
		if msg, ok := oopsContext(err)["message"].(string); ok && msg != "" {
			return msg
		}
		return "Password does not meet requirements"
	case CodeEmptyPassword:
		return "Password cannot be empty"
	case CodeInvalidEmail, CodeInvalidUsername:
		// Validation messages are written for the caller.
		return sentenceCase(err.Error())
	default:
		return "Internal server error"
	}
}

func oopsContext(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func sentenceCase(msg string) string {
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}
