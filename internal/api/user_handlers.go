// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/tokenward/tokenward/internal/auth"
)

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !s.decode(w, r, &req) {
		return
	}

	updated, err := s.accounts.UpdateProfile(r.Context(), accountFrom(r.Context()), auth.ProfileUpdate{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		s.writeServiceError(w, r, err, scopeBearer)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(updated))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.accounts.ChangePassword(r.Context(), accountFrom(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		// A wrong current password is a bad request, not a failed bearer check.
		if auth.Code(err) == auth.CodeInvalidCredentials {
			writeError(w, http.StatusBadRequest, auth.CodeInvalidCredentials, "Incorrect current password")
			return
		}
		s.writeServiceError(w, r, err, scopeBearer)
		return
	}
	writeMessage(w, "Password changed successfully")
}

// handleDeleteMe deactivates the caller. The record is kept.
func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Deactivate(r.Context(), accountFrom(r.Context())); err != nil {
		s.writeServiceError(w, r, err, scopeBearer)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	skip, ok := queryInt(w, r, "skip", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", auth.DefaultListLimit)
	if !ok {
		return
	}

	accounts, err := s.accounts.ListAccounts(r.Context(), skip, limit)
	if err != nil {
		s.writeServiceError(w, r, err, scopeLookup)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, newAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		// No account can have a malformed id.
		writeError(w, http.StatusNotFound, auth.CodeAccountNotFound, "User not found")
		return
	}

	account, err := s.accounts.GetAccount(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, scopeLookup)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

// queryInt reads an optional integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, name+" must be an integer")
		return 0, false
	}
	return n, true
}
