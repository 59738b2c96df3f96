package handler

import (
	"bufio"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/go-calendar-nosql/internal/application/user"
	"github.com/go-calendar-nosql/internal/domain"
)

// UserHandler handles profile endpoints.
type UserHandler struct {
	svc user.Service
}

func NewUserHandler(svc user.Service) *UserHandler { return &UserHandler{svc: svc} }

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	u, err := h.svc.GetMe(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var patch domain.UserPatch
	if !decode(w, r, &patch) {
		return
	}
	u, err := h.svc.UpdateMe(r.Context(), userID, patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UploadAvatar takes a multipart form with a "file" field.
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, user.MaxAvatarSize+1<<20)
	if err := r.ParseMultipartForm(user.MaxAvatarSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer f.Close()

	body, contentType := sniff(f)
	u, err := h.svc.UpdateAvatar(r.Context(), userID, contentType, body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetByEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	rc, err := h.svc.Avatar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	body, contentType := sniff(rc)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

// sniff detects the content type from the first bytes without consuming them.
func sniff(r io.Reader) (io.Reader, string) {
	br := bufio.NewReaderSize(r, 512)
	head, _ := br.Peek(512)
	return br, http.DetectContentType(head)
}
