// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package api

import (
	"net/http"

	"github.com/tokenward/tokenward/internal/auth"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	account, err := s.accounts.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		s.writeServiceError(w, r, err, scopeBearer)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	pair, _, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err, scopeBearer)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}

	pair, err := s.accounts.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err, scopeBearer)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !s.decode(w, r, &req) {
		return
	}

	already, err := s.accounts.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		s.writeServiceError(w, r, err, scopeBodyToken)
		return
	}
	if already {
		writeMessage(w, "Email already verified")
		return
	}
	writeMessage(w, "Email verified successfully")
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	already, err := s.accounts.ResendVerification(r.Context(), accountFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err, scopeBearer)
		return
	}
	if already {
		writeMessage(w, "Email already verified")
		return
	}
	writeMessage(w, "Verification email sent")
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		s.writeServiceError(w, r, err, scopeBearer)
		return
	}
	writeMessage(w, "If the email exists, a password reset link has been sent")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err, scopeBodyToken)
		return
	}
	writeMessage(w, "Password reset successfully")
}

// handleLogout only acknowledges. Tokens are stateless and stay valid until
// they expire; the client discards them.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, "Logged out successfully")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newAccountResponse(accountFrom(r.Context())))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r.Context())
	if account == nil {
		writeJSON(w, http.StatusOK, statusResponse{})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Authenticated: true, Email: account.Email})
}
