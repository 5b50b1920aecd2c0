package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// Стабильные коды ошибок API.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeAlreadySubmitted    = "ALREADY_SUBMITTED"
	CodeNoFeedbackAvailable = "NO_FEEDBACK_AVAILABLE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// APIError — тело ошибки в конверте ответа.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope — единый формат ответа API.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
	Timestamp string    `json:"timestamp"`
}

// WriteSuccess отправляет успешный ответ в конверте.
func WriteSuccess(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// WriteError отправляет ошибку в конверте.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, Envelope{Error: &APIError{Code: code, Message: message}})
}

// WriteValidationError отправляет ошибку валидации с указанием поля.
func WriteValidationError(w http.ResponseWriter, field, reason string) {
	writeEnvelope(w, http.StatusBadRequest, Envelope{Error: &APIError{
		Code:    CodeInvalidRequest,
		Message: "ошибка валидации запроса",
		Details: map[string]any{"field": field, "reason": reason},
	}})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
