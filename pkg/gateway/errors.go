package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/pkg/chat"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
	"github.com/MinchaoZhu/chaos-bot/pkg/skills"
)

// Error codes returned in {code, message} bodies.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeNotFound           = "not_found"
	CodeServiceUnavailable = "service_unavailable"
	CodeInternal           = "internal_error"
	CodeRateLimited        = "rate_limited"
)

// APIError is the JSON error body of every failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func BadRequest(msg string) *APIError {
	return &APIError{Code: CodeInvalidRequest, Message: msg, Status: http.StatusBadRequest}
}

func NotFound(msg string) *APIError {
	return &APIError{Code: CodeNotFound, Message: msg, Status: http.StatusNotFound}
}

func Unavailable(msg string) *APIError {
	return &APIError{Code: CodeServiceUnavailable, Message: msg, Status: http.StatusServiceUnavailable}
}

func Internal(msg string) *APIError {
	return &APIError{Code: CodeInternal, Message: msg, Status: http.StatusInternalServerError}
}

// ToAPIError maps domain errors onto API errors.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, session.ErrNotFound):
		return NotFound("session not found")
	case errors.Is(err, skills.ErrNotFound):
		return NotFound("skill not found")
	case errors.Is(err, chat.ErrUnavailable):
		return Unavailable(err.Error())
	case errors.Is(err, config.ErrInvalid):
		return BadRequest(err.Error())
	default:
		return Internal(err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := ToAPIError(err)
	writeJSON(w, apiErr.Status, apiErr)
}
