package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/lifecycle"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/internal/policy"
	"github.com/pipps-app/ProductFormulator-sub000/internal/store"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorResponse struct {
	Error  string            `json:"error"`
	State  string            `json:"state,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	Locked bool              `json:"locked,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		applog.Error(context.Background(), "failed to encode json response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeRejected reports input that was refused before anything was written.
func writeRejected(w http.ResponseWriter, message string, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, State: "unchanged", Fields: fields})
}

// decodeJSON reads a request body into dst and validates it. Unknown fields
// are rejected so derived values such as unit_cost cannot be supplied. It
// writes the error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		applog.Debug(r.Context(), "rejected request body", "error", err)
		writeRejected(w, decodeMessage(err), nil)
		return false
	}
	if err := validate.StructCtx(r.Context(), dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeRejected(w, "validation failed", validationFields(verrs))
			return false
		}
		writeRejected(w, err.Error(), nil)
		return false
	}
	return true
}

func decodeMessage(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return "request body is required"
	case errors.As(err, &syntaxErr):
		return "request body is not valid JSON"
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %s has the wrong type", typeErr.Field)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return strings.TrimPrefix(err.Error(), "json: ") + " is not accepted"
	default:
		return "invalid request body"
	}
}

func validationFields(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Namespace()
		if idx := strings.Index(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		fields[name] = fieldMessage(fe)
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "required_without":
		return "is required when " + fe.Param() + " is not set"
	case "excluded_with":
		return "cannot be combined with " + fe.Param()
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

// writeStoreError maps domain errors onto HTTP responses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, what string) {
	var verr *store.ValidationError
	var locked *policy.LockedError
	switch {
	case errors.As(err, &verr):
		writeRejected(w, verr.Error(), map[string]string{verr.Field: verr.Message})
	case errors.As(err, &locked):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: locked.Error(), Locked: true})
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrInUse):
		writeJSONError(w, http.StatusConflict, what+" is still in use")
	case errors.Is(err, lifecycle.ErrAlreadyArchived):
		writeJSONError(w, http.StatusConflict, what+" is already archived")
	case errors.Is(err, lifecycle.ErrNotArchived):
		writeJSONError(w, http.StatusConflict, what+" is not archived")
	case errors.Is(err, gorm.ErrInvalidDB):
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		applog.Error(r.Context(), "request failed", "entity", what, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to process "+what)
	}
}

func pathID(r *http.Request) (uint, bool) {
	value, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || value == 0 {
		return 0, false
	}
	return uint(value), true
}

func queryUint(r *http.Request, key string) uint {
	value, err := strconv.ParseUint(strings.TrimSpace(r.URL.Query().Get(key)), 10, 64)
	if err != nil {
		return 0
	}
	return uint(value)
}

func queryBool(r *http.Request, key string) (bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return value, true
}
