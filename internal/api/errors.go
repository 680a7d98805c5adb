// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tokenward/tokenward/internal/auth"
	"github.com/tokenward/tokenward/pkg/errutil"
)

// Error is the body of every error response.
type Error struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// Codes used by the API layer itself. Service errors carry auth codes.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

// scope decides how token and not-found errors are rendered.
type scope int

const (
	// scopeBearer: the failure concerns the caller's own credentials.
	scopeBearer scope = iota
	// scopeBodyToken: a verification or reset token sent in the body.
	scopeBodyToken
	// scopeLookup: an account looked up by id.
	scopeLookup
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, Error{Detail: detail, Code: code})
}

func writeUnauthorized(w http.ResponseWriter, code, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, code, detail)
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// statusFor maps an auth error code to an HTTP status. challenge reports
// whether a WWW-Authenticate header belongs on the response.
func statusFor(code string, sc scope) (status int, challenge bool) {
	switch code {
	case auth.CodeInvalidCredentials:
		return http.StatusUnauthorized, true
	case auth.CodeInvalidToken, auth.CodeWrongTokenPurpose, auth.CodeMalformedClaims:
		if sc == scopeBodyToken {
			return http.StatusBadRequest, false
		}
		return http.StatusUnauthorized, true
	case auth.CodeAccountNotFound:
		if sc == scopeBearer {
			return http.StatusUnauthorized, true
		}
		return http.StatusNotFound, false
	case auth.CodeAccountInactive, auth.CodeEmailNotVerified, auth.CodeForbidden:
		return http.StatusForbidden, false
	case auth.CodeDuplicateEmail, auth.CodeDuplicateUsername,
		auth.CodeWeakPassword, auth.CodeEmptyPassword,
		auth.CodeInvalidEmail, auth.CodeInvalidUsername:
		return http.StatusBadRequest, false
	default:
		return http.StatusInternalServerError, false
	}
}

// writeServiceError renders an error returned by the auth package. Internal
// details go to the log only.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, sc scope) {
	code := auth.Code(err)
	status, challenge := statusFor(code, sc)
	if status == http.StatusInternalServerError {
		errutil.LogError(r.Context(), s.logger, "request failed", err)
		writeError(w, status, CodeInternal, auth.PublicMessage(err))
		return
	}
	if challenge {
		writeUnauthorized(w, code, auth.PublicMessage(err))
		return
	}
	writeError(w, status, code, auth.PublicMessage(err))
}

// writeValidationError renders a body that failed to decode or validate.
func writeValidationError(w http.ResponseWriter, err error) {
	detail := "Invalid request body"
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		detail = fieldMessage(verrs[0])
	}
	writeError(w, http.StatusUnprocessableEntity, CodeValidation, detail)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "email":
		return fe.Field() + " must be a valid email address"
	default:
		return fe.Field() + " is invalid"
	}
}
