package handler

import (
	"net/http"

	"github.com/go-calendar-nosql/internal/application/auth"
	"github.com/go-calendar-nosql/internal/domain"
	"github.com/go-calendar-nosql/internal/transport/http/middleware"
)

// AuthHandler handles registration, login and email verification.
type AuthHandler struct {
	svc auth.Service
}

func NewAuthHandler(svc auth.Service) *AuthHandler { return &AuthHandler{svc: svc} }

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	u, err := h.svc.VerifyEmail(r.Context(), raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ResendVerification accepts either a bearer token or an email in the body.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req auth.ResendRequest
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		req.UserID = claims.UserID
	} else if !decode(w, r, &req) {
		return
	}
	sent, err := h.svc.ResendVerification(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !sent {
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "email already verified"})
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "verification email sent"})
}
