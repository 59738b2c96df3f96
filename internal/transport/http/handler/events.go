package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/go-calendar-nosql/internal/application/event"
	"github.com/go-calendar-nosql/internal/domain"
)

// EventHandler handles events, event membership, event invitations and export.
type EventHandler struct {
	svc event.Service
}

func NewEventHandler(svc event.Service) *EventHandler { return &EventHandler{svc: svc} }

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.svc.ListEvents(r.Context(), userID, chi.URLParam(r, "calendarId"), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req domain.CreateEventRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.svc.CreateEvent(r.Context(), userID, chi.URLParam(r, "calendarId"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	e, err := h.svc.GetEvent(r.Context(), userID, chi.URLParam(r, "calendarId"), chi.URLParam(r, "eventId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var patch domain.EventPatch
	if !decode(w, r, &patch) {
		return
	}
	e, err := h.svc.UpdateEvent(r.Context(), userID, chi.URLParam(r, "calendarId"), chi.URLParam(r, "eventId"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteEvent(r.Context(), userID, chi.URLParam(r, "calendarId"), chi.URLParam(r, "eventId")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) ListShared(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.svc.ListSharedEvents(r.Context(), userID, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *EventHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	calendarID := chi.URLParam(r, "calendarId")
	body, err := h.svc.ExportCalendar(r.Context(), userID, calendarID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.ics"`, calendarID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *EventHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	members, err := h.svc.ListMembers(r.Context(), userID, chi.URLParam(r, "calendarId"), chi.URLParam(r, "eventId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListEnvelope[domain.MemberView]{Data: members})
}

func (h *EventHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req domain.InviteEventMemberRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Invite(r.Context(), userID, chi.URLParam(r, "calendarId"), chi.URLParam(r, "eventId"), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *EventHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	err := h.svc.RemoveMember(r.Context(), userID,
		chi.URLParam(r, "calendarId"), chi.URLParam(r, "eventId"), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InviteAction handles POST /event-invites/{action} for accept and decline.
func (h *EventHandler) InviteAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req domain.TokenRequest
	if !decode(w, r, &req) {
		return
	}
	switch chi.URLParam(r, "action") {
	case "accept":
		m, err := h.svc.AcceptInvite(r.Context(), userID, req.Token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case "decline":
		if err := h.svc.DeclineInvite(r.Context(), userID, req.Token); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "invitation declined"})
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", chi.URLParam(r, "action")))
	}
}

// parseEventFilter reads from, to (RFC 3339), types (comma separated or repeated), page and limit.
func parseEventFilter(r *http.Request) (domain.EventFilter, error) {
	q := r.URL.Query()
	var f domain.EventFilter
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%s must be an RFC 3339 timestamp", p.name)
		}
		*p.dst = &t
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, fmt.Errorf("to is before from")
	}
	for _, raw := range q["types"] {
		for _, t := range strings.Split(raw, ",") {
			switch et := domain.EventType(strings.TrimSpace(t)); et {
			case domain.EventArrangement, domain.EventReminder, domain.EventTask:
				f.Types = append(f.Types, et)
			case "":
			default:
				return f, fmt.Errorf("unknown event type %q", t)
			}
		}
	}
	var err error
	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("page must be a number")
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("limit must be a number")
		}
	}
	return f, nil
}
