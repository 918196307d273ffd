package handlers

import (
	"errors"
	"net/http"
	"strings"

	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login checks credentials and starts a session.
func Login(w http.ResponseWriter, r *http.Request) {
	if sessionManager == nil || database == nil {
		applog.Debug(r.Context(), "authentication dependencies unavailable", "hasSession", sessionManager != nil, "hasDatabase", database != nil)
		writeJSONError(w, http.StatusServiceUnavailable, "authentication not available")
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := authenticate(r, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) {
			applog.Debug(r.Context(), "authentication failed", "email", strings.ToLower(req.Email))
			writeJSONError(w, http.StatusUnauthorized, "Invalid email or password.")
			return
		}
		applog.Error(r.Context(), "failed to sign in", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "We were unable to sign you in. Please try again.")
		return
	}

	applog.Debug(r.Context(), "authentication succeeded", "email", user.Email)
	writeJSON(w, http.StatusOK, projectUser(user))
}
