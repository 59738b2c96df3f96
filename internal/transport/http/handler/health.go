package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthHandler answers liveness (ping) and readiness (ready) checks.
type HealthHandler struct {
	ready func(context.Context) error
}

// NewHealthHandler takes the storage readiness check. A nil check always passes.
func NewHealthHandler(ready func(context.Context) error) *HealthHandler {
	return &HealthHandler{ready: ready}
}

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "ping":
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
	case "ready":
		if h.ready != nil {
			if err := h.ready(r.Context()); err != nil {
				slog.Warn("readiness check failed", "err", err)
				writeError(w, http.StatusServiceUnavailable, "storage unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ready"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
