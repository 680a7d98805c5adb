// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Password length bounds.
const (
	DefaultMinPasswordLength = 8
	MaxPasswordLength        = 128
)

// PasswordPolicy holds the acceptance rules for new passwords. It is applied
// by AccountService before hashing, never by the hasher itself.
type PasswordPolicy struct {
	MinLength int
}

// NewPasswordPolicy returns a policy with the given minimum length. A
// non-positive minLength uses DefaultMinPasswordLength.
func NewPasswordPolicy(minLength int) PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	return PasswordPolicy{MinLength: minLength}
}

// Validate returns an AUTH_WEAK_PASSWORD error listing every violated rule.
func (p PasswordPolicy) Validate(password string) error {
	var violations []string

	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		violations = append(violations, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if n > MaxPasswordLength {
		violations = append(violations, fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength))
	}

	var digit, upper, lower bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		}
	}
	if !digit {
		violations = append(violations, "Password must contain at least one digit")
	}
	if !upper {
		violations = append(violations, "Password must contain at least one uppercase letter")
	}
	if !lower {
		violations = append(violations, "Password must contain at least one lowercase letter")
	}

	if len(violations) == 0 {
		return nil
	}
	return oops.Code(CodeWeakPassword).
		With("violations", violations).
		With("message", strings.Join(violations, "; ")).
		Errorf("password does not meet requirements")
}
