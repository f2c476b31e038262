package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Code        int      `json:"code"`
	Message     string   `json:"message"`
	Category    string   `json:"category,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var validation *domain.ValidationError
	var exhausted *domain.PoolExhaustedError
	var poolClosed *domain.PoolClosedError
	var execution *domain.ExecutionError
	var cancelled *domain.CancelledError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &exhausted):
		return http.StatusServiceUnavailable
	case errors.As(err, &poolClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &cancelled):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &execution):
		if execution.Category == domain.CategoryUnknown {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error as the JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	resp := errorResponse{Code: status, Message: err.Error()}

	var execution *domain.ExecutionError
	if errors.As(err, &execution) {
		resp.Category = string(execution.Category)
		resp.Suggestions = execution.Suggestions
	}

	writeJSON(w, status, resp)
}

// writeJSON renders v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
