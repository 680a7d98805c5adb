// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tokenward/tokenward/internal/auth"
)

type registerRequest struct {
	Email    string  `json:"email" validate:"required,max=254"`
	Username *string `json:"username" validate:"omitempty,max=64"`
	FullName string  `json:"full_name" validate:"max=255"`
	Password string  `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type updateProfileRequest struct {
	Username *string `json:"username" validate:"omitempty,max=64"`
	Email    *string `json:"email" validate:"omitempty,max=254"`
	FullName *string `json:"full_name" validate:"omitempty,max=255"`
}

// accountResponse is the public view of an account. The password hash never
// leaves the service.
type accountResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      *string    `json:"username"`
	FullName      string     `json:"full_name"`
	IsActive      bool       `json:"is_active"`
	IsVerified    bool       `json:"is_verified"`
	IsSuperuser   bool       `json:"is_superuser"`
	OAuthProvider *string    `json:"oauth_provider"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login"`
}

func newAccountResponse(a *auth.Account) accountResponse {
	return accountResponse{
		ID:            a.ID.String(),
		Email:         a.Email,
		Username:      a.Username,
		FullName:      a.FullName,
		IsActive:      a.IsActive,
		IsVerified:    a.IsVerified,
		IsSuperuser:   a.IsSuperuser,
		OAuthProvider: a.OAuthProvider,
		CreatedAt:     a.CreatedAt,
		LastLogin:     a.LastLogin,
	}
}

type statusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
}

// decode reads a JSON body into dst and validates it. On failure the error
// response is already written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeValidation, "Request body too large")
			return false
		}
		writeValidationError(w, err)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}
