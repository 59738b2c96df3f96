package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-calendar-nosql/internal/domain"
	"github.com/go-calendar-nosql/internal/pkg/validate"
	"github.com/go-calendar-nosql/internal/transport/http/middleware"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

// ListEnvelope wraps collection responses.
type ListEnvelope[T any] struct {
	Data []T `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}

// writeServiceError maps a service error onto its HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var cooldown *domain.CooldownError
	if errors.As(err, &cooldown) {
		writeJSON(w, http.StatusTooManyRequests, MessageEnvelope{
			Error:       err.Error(),
			ErrorCode:   http.StatusTooManyRequests,
			WaitSeconds: cooldown.WaitSeconds,
		})
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTokenInvalidOrExpired), errors.Is(err, domain.ErrTokenTypeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUserAlreadyExists),
		errors.Is(err, domain.ErrPrimaryCalendarExists),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v and validates it. It writes the error response
// itself and reports false when the handler should stop.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

// actor returns the authenticated user id, writing 401 when there is none.
func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return claims.UserID, true
}
