package handlers

import (
	"errors"
	"net/http"
	"strings"

	"gorm.io/gorm"

	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Plan     string `json:"plan" validate:"omitempty,oneof=free starter professional business"`
}

// Signup creates an account and signs it in.
func Signup(w http.ResponseWriter, r *http.Request) {
	if sessionManager == nil || database == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "registration not available")
		return
	}

	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := findUserByEmail(r, req.Email); err == nil {
		writeJSONError(w, http.StatusConflict, "An account with that email already exists.")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		applog.Error(r.Context(), "failed to check for existing user", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "We were unable to create your account. Please try again.")
		return
	}

	user, err := createUser(r, req.Email, req.Name, req.Password, req.Plan)
	if err != nil {
		applog.Error(r.Context(), "failed to create user", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "We were unable to create your account. Please try again.")
		return
	}

	if err := establishSession(r, user); err != nil {
		applog.Error(r.Context(), "failed to establish session after signup", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Your account was created but we could not sign you in.")
		return
	}

	applog.Info(r.Context(), "user signed up", "user_id", user.ID, "email", strings.ToLower(user.Email), "plan", user.Plan)
	writeJSON(w, http.StatusCreated, projectUser(user))
}
