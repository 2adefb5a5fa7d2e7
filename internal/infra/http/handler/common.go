// Package handler contains the HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/visscan/api/pkg/apierror"
	"github.com/visscan/api/pkg/domain/shared"
	"github.com/visscan/api/pkg/validator"
)

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondError converts a service error into an API error response.
func respondError(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		apiErr.WriteJSON(w)
		return
	}

	var domainErr *shared.DomainError
	message := err.Error()
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	switch {
	case shared.IsNotFound(err):
		apierror.NotFound(message).WriteJSON(w)
	case shared.IsQuotaExceeded(err):
		apierror.QuotaExceeded(message).WriteJSON(w)
	case shared.IsNoManualJob(err):
		apierror.NoManualJob(message).WriteJSON(w)
	case shared.IsValidation(err), errors.Is(err, shared.ErrInvalidInput):
		apierror.BadRequest(message).WriteJSON(w)
	case errors.Is(err, shared.ErrAlreadyExists), errors.Is(err, shared.ErrConflict):
		apierror.Conflict(message).WriteJSON(w)
	default:
		apierror.InternalError(err).WriteJSON(w)
	}
}

// respondValidationError maps validator output onto a 400 with field
// details.
func respondValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		apierror.ValidationFailed("validation failed", verrs).WriteJSON(w)
		return
	}
	apierror.BadRequest(err.Error()).WriteJSON(w)
}

// pathID parses a uuid path parameter.
func pathID(r *http.Request, name string) (shared.ID, error) {
	raw := chi.URLParam(r, name)
	id, err := shared.IDFromString(raw)
	if err != nil {
		return shared.ID{}, shared.NewDomainError("VALIDATION", "invalid "+name, shared.ErrValidation)
	}
	return id, nil
}

// parseQueryInt parses an integer query parameter with a default.
func parseQueryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}
