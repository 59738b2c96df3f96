package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/go-calendar-nosql/internal/application/calendar"
	"github.com/go-calendar-nosql/internal/domain"
)

// CalendarHandler handles calendar CRUD, membership and calendar invitations.
type CalendarHandler struct {
	svc calendar.Service
}

func NewCalendarHandler(svc calendar.Service) *CalendarHandler { return &CalendarHandler{svc: svc} }

func (h *CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	cals, err := h.svc.ListMyCalendars(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListEnvelope[domain.MyCalendar]{Data: cals})
}

func (h *CalendarHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req domain.CreateCalendarRequest
	if !decode(w, r, &req) {
		return
	}
	cal, err := h.svc.CreateCalendar(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cal)
}

func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	cal, err := h.svc.GetCalendar(r.Context(), userID, chi.URLParam(r, "calendarId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

func (h *CalendarHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var patch domain.CalendarPatch
	if !decode(w, r, &patch) {
		return
	}
	cal, err := h.svc.UpdateCalendar(r.Context(), userID, chi.URLParam(r, "calendarId"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

func (h *CalendarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteCalendar(r.Context(), userID, chi.URLParam(r, "calendarId")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CalendarHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	members, err := h.svc.ListMembers(r.Context(), userID, chi.URLParam(r, "calendarId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListEnvelope[domain.MemberView]{Data: members})
}

func (h *CalendarHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req domain.InviteCalendarMemberRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Invite(r.Context(), userID, chi.URLParam(r, "calendarId"), req.Email, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *CalendarHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	var req domain.UpdateMemberRoleRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.svc.UpdateMemberRole(r.Context(), userID, chi.URLParam(r, "calendarId"), chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *CalendarHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.RemoveMember(r.Context(), userID, chi.URLParam(r, "calendarId"), chi.URLParam(r, "userId")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InviteAction handles POST /calendar-invites/{action} for accept and decline.
func (h *CalendarHandler) InviteAction(w http.ResponseWriter, r *http.Request) {
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
