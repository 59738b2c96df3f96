package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-calendar-nosql/internal/application/access"
	"github.com/go-calendar-nosql/internal/domain"
	"github.com/go-calendar-nosql/internal/pkg/icalendar"
	"github.com/go-calendar-nosql/internal/pkg/id"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Service manages events and view-only sharing of single events.
// Writes always require calendar membership; reads also accept an
// accepted event membership.
type Service interface {
	CreateEvent(ctx context.Context, actorID, calendarID string, req domain.CreateEventRequest) (*domain.Event, error)
	ListEvents(ctx context.Context, actorID, calendarID string, filter domain.EventFilter) (*domain.EventPage, error)
	GetEvent(ctx context.Context, actorID, calendarID, eventID string) (*domain.Event, error)
	UpdateEvent(ctx context.Context, actorID, calendarID, eventID string, patch domain.EventPatch) (*domain.Event, error)
	DeleteEvent(ctx context.Context, actorID, calendarID, eventID string) error
	ListSharedEvents(ctx context.Context, actorID string, filter domain.EventFilter) (*domain.EventPage, error)
	ExportCalendar(ctx context.Context, actorID, calendarID string) ([]byte, error)

	Invite(ctx context.Context, inviterID, calendarID, eventID, email string) (*domain.InviteResult, error)
	AcceptInvite(ctx context.Context, userID, rawToken string) (*domain.EventMember, error)
	DeclineInvite(ctx context.Context, userID, rawToken string) error
	ListMembers(ctx context.Context, actorID, calendarID, eventID string) ([]domain.MemberView, error)
	RemoveMember(ctx context.Context, actorID, calendarID, eventID, targetUserID string) error
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.User, error)
}

type calendarStore interface {
	Get(ctx context.Context, calendarID string) (*domain.Calendar, error)
}

type calendarMemberStore interface {
	Get(ctx context.Context, calendarID, userID string) (*domain.CalendarMember, error)
}

type eventStore interface {
	Put(ctx context.Context, e *domain.Event) error
	Update(ctx context.Context, e *domain.Event) error
	Get(ctx context.Context, eventID string) (*domain.Event, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.Event, error)
	ListByCalendar(ctx context.Context, calendarID string) ([]*domain.Event, error)
	Delete(ctx context.Context, eventID string) error
}

type eventMemberStore interface {
	Get(ctx context.Context, eventID, userID string) (*domain.EventMember, error)
	ListByEvent(ctx context.Context, eventID string) ([]*domain.EventMember, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.EventMember, error)
	PutPending(ctx context.Context, m *domain.EventMember) error
	SetStatus(ctx context.Context, eventID, userID string, from, to domain.MemberStatus, at time.Time) error
	Remove(ctx context.Context, eventID, userID string) error
	DeleteByEvent(ctx context.Context, eventID string) error
}

type approver interface {
	Mint(ctx context.Context, userID string, tokenType domain.TokenType, ttl time.Duration, meta domain.TokenMeta) (string, error)
	Peek(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error)
	Consume(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error)
	Discard(ctx context.Context, raw string) error
}

type notifier interface {
	SendEventInvite(ctx context.Context, toEmail, rawToken string, info domain.EventInviteInfo) error
}

type service struct {
	users           userStore
	calendars       calendarStore
	calendarMembers calendarMemberStore
	events          eventStore
	members         eventMemberStore
	approvals       approver
	notifier        notifier
	inviteTTL       time.Duration
	now             func() time.Time
}

type ServiceDeps struct {
	UserRepo           userStore
	CalendarRepo       calendarStore
	CalendarMemberRepo calendarMemberStore
	EventRepo          eventStore
	EventMemberRepo    eventMemberStore
	Approvals          approver
	Notifier           notifier
	InviteTTL          time.Duration
	Now                func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		users:           deps.UserRepo,
		calendars:       deps.CalendarRepo,
		calendarMembers: deps.CalendarMemberRepo,
		events:          deps.EventRepo,
		members:         deps.EventMemberRepo,
		approvals:       deps.Approvals,
		notifier:        deps.Notifier,
		inviteTTL:       deps.InviteTTL,
		now:             now,
	}
}

func (s *service) CreateEvent(ctx context.Context, actorID, calendarID string, req domain.CreateEventRequest) (*domain.Event, error) {
	if _, err := s.requireCalendarRole(ctx, calendarID, actorID, access.WriteRoles); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	e := &domain.Event{
		EventID:     id.NewAt(now),
		CalendarID:  calendarID,
		CreatedBy:   actorID,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Color:       req.Color,
		AllDay:      req.AllDay,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		RemindAt:    req.RemindAt,
		DueAt:       req.DueAt,
		IsDone:      req.IsDone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.events.Put(ctx, e); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}
	return e, nil
}

// ListEvents pages through the calendar's events ordered by their first instant.
func (s *service) ListEvents(ctx context.Context, actorID, calendarID string, filter domain.EventFilter) (*domain.EventPage, error) {
	if _, err := s.requireCalendarRole(ctx, calendarID, actorID, access.ReadRoles); err != nil {
		return nil, err
	}
	all, err := s.events.ListByCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	return paginate(all, filter), nil
}

// GetEvent is readable by calendar members and by accepted event members.
func (s *service) GetEvent(ctx context.Context, actorID, calendarID, eventID string) (*domain.Event, error) {
	e, err := s.eventIn(ctx, calendarID, eventID)
	if err != nil {
		return nil, err
	}
	cm, err := s.calendarMember(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}
	if cm != nil && cm.Status == domain.StatusAccepted {
		if err := access.RequireRole(cm, access.ReadRoles...); err != nil {
			return nil, err
		}
		return e, nil
	}
	em, err := s.eventMember(ctx, eventID, actorID)
	if err != nil {
		return nil, err
	}
	if _, err := access.RequireEventMembership(em); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *service) UpdateEvent(ctx context.Context, actorID, calendarID, eventID string, patch domain.EventPatch) (*domain.Event, error) {
	if _, err := s.requireCalendarRole(ctx, calendarID, actorID, access.WriteRoles); err != nil {
		return nil, err
	}
	e, err := s.eventIn(ctx, calendarID, eventID)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return e, nil
	}
	patch.Apply(e)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.UpdatedAt = s.now().UTC()
	if err := s.events.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return e, nil
}

func (s *service) DeleteEvent(ctx context.Context, actorID, calendarID, eventID string) error {
	if _, err := s.requireCalendarRole(ctx, calendarID, actorID, access.WriteRoles); err != nil {
		return err
	}
	if _, err := s.eventIn(ctx, calendarID, eventID); err != nil {
		return err
	}
	if err := s.members.DeleteByEvent(ctx, eventID); err != nil {
		return fmt.Errorf("delete event members: %w", err)
	}
	return s.events.Delete(ctx, eventID)
}

// ListSharedEvents pages through the events a user reaches through accepted
// event memberships, with the same filtering and ordering as ListEvents.
func (s *service) ListSharedEvents(ctx context.Context, actorID string, filter domain.EventFilter) (*domain.EventPage, error) {
	rows, err := s.members.ListByUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		if m.Status == domain.StatusAccepted {
			ids = append(ids, m.EventID)
		}
	}
	var events []*domain.Event
	if len(ids) > 0 {
		if events, err = s.events.GetMany(ctx, ids); err != nil {
			return nil, err
		}
	}
	return paginate(events, filter), nil
}

// paginate applies filter to events, orders them by their first instant
// (newest created first on ties) and cuts out the requested page.
func paginate(events []*domain.Event, filter domain.EventFilter) *domain.EventPage {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}

	matched := make([]*domain.Event, 0, len(events))
	for _, e := range events {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		si, _, _ := matched[i].Span()
		sj, _, _ := matched[j].Span()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := &domain.EventPage{Items: []*domain.Event{}, Page: filter.Page, Limit: filter.Limit, Total: len(matched)}
	start := (filter.Page - 1) * filter.Limit
	if start < len(matched) {
		end := min(start+filter.Limit, len(matched))
		page.Items = matched[start:end]
	}
	return page
}

// ExportCalendar renders every event of the calendar as an iCalendar document.
func (s *service) ExportCalendar(ctx context.Context, actorID, calendarID string) ([]byte, error) {
	cal, err := s.requireCalendarRole(ctx, calendarID, actorID, access.ReadRoles)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListByCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	return icalendar.Encode(icalendar.Build(cal, events, s.now()))
}

func (s *service) Invite(ctx context.Context, inviterID, calendarID, eventID, email string) (*domain.InviteResult, error) {
	if _, err := s.requireCalendarRole(ctx, calendarID, inviterID, access.AdminRoles); err != nil {
		return nil, err
	}
	e, err := s.eventIn(ctx, calendarID, eventID)
	if err != nil {
		return nil, err
	}
	target, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	cm, err := s.calendarMember(ctx, calendarID, target.UserID)
	if err != nil {
		return nil, err
	}
	if cm != nil && cm.Status == domain.StatusAccepted {
		return nil, fmt.Errorf("user already sees this event through the calendar: %w", domain.ErrForbidden)
	}
	existing, err := s.eventMember(ctx, eventID, target.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case domain.StatusAccepted:
			return nil, fmt.Errorf("user is already a member: %w", domain.ErrForbidden)
		case domain.StatusPending:
			return nil, fmt.Errorf("duplicate pending invite: %w", domain.ErrForbidden)
		}
	}

	now := s.now().UTC()
	row := &domain.EventMember{EventID: eventID, UserID: target.UserID, Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}
	if existing != nil {
		row.CreatedAt = existing.CreatedAt
	}
	if err := s.members.PutPending(ctx, row); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("user is already a member: %w", domain.ErrForbidden)
		}
		return nil, fmt.Errorf("store invitation: %w", err)
	}

	raw, err := s.approvals.Mint(ctx, target.UserID, domain.TokenEventInvite, s.inviteTTL,
		domain.TokenMeta{EventID: eventID, CalendarID: calendarID})
	if err != nil {
		s.rollbackInvite(ctx, "", row, existing)
		return nil, err
	}
	info := domain.EventInviteInfo{EventTitle: e.Title, InvitedBy: s.displayName(ctx, inviterID)}
	if err := s.notifier.SendEventInvite(ctx, target.Email, raw, info); err != nil {
		s.rollbackInvite(ctx, raw, row, existing)
		return nil, fmt.Errorf("send event invite: %w", err)
	}
	return &domain.InviteResult{Email: target.Email, CalendarID: calendarID, EventID: eventID}, nil
}

// rollbackInvite undoes an invitation that never reached the invitee. Only
// declined rows are ever re-invited, so an existing row goes back to declined.
func (s *service) rollbackInvite(ctx context.Context, raw string, row, existing *domain.EventMember) {
	if err := s.approvals.Discard(ctx, raw); err != nil {
		slog.Warn("discard undelivered invite token", "event_id", row.EventID, "err", err)
	}
	var err error
	if existing == nil {
		err = s.members.Remove(ctx, row.EventID, row.UserID)
	} else {
		err = s.members.SetStatus(ctx, row.EventID, row.UserID, domain.StatusPending, existing.Status, existing.UpdatedAt)
	}
	if err != nil {
		slog.Warn("roll back undelivered invitation", "event_id", row.EventID, "user_id", row.UserID, "err", err)
	}
}

func (s *service) AcceptInvite(ctx context.Context, userID, rawToken string) (*domain.EventMember, error) {
	m, err := s.checkInvite(ctx, userID, rawToken)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusPending {
		return nil, fmt.Errorf("invitation is no longer pending: %w", domain.ErrForbidden)
	}
	if _, err := s.approvals.Consume(ctx, rawToken, domain.TokenEventInvite); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.members.SetStatus(ctx, m.EventID, userID, domain.StatusPending, domain.StatusAccepted, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("invitation is no longer pending: %w", domain.ErrForbidden)
		}
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	m.Status = domain.StatusAccepted
	m.UpdatedAt = now
	return m, nil
}

func (s *service) DeclineInvite(ctx context.Context, userID, rawToken string) error {
	m, err := s.checkInvite(ctx, userID, rawToken)
	if err != nil {
		return err
	}
	switch m.Status {
	case domain.StatusAccepted:
		return fmt.Errorf("invitation was already accepted: %w", domain.ErrForbidden)
	case domain.StatusDeclined:
		_, err := s.approvals.Consume(ctx, rawToken, domain.TokenEventInvite)
		return err
	}
	if _, err := s.approvals.Consume(ctx, rawToken, domain.TokenEventInvite); err != nil {
		return err
	}
	if err := s.members.SetStatus(ctx, m.EventID, userID, domain.StatusPending, domain.StatusDeclined, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("invitation is no longer pending: %w", domain.ErrForbidden)
		}
		return fmt.Errorf("decline invitation: %w", err)
	}
	return nil
}

// ListMembers shows calendar owners every row. Anyone holding a pending or
// accepted row of their own sees the pending and accepted rows.
func (s *service) ListMembers(ctx context.Context, actorID, calendarID, eventID string) ([]domain.MemberView, error) {
	if _, err := s.eventIn(ctx, calendarID, eventID); err != nil {
		return nil, err
	}
	cm, err := s.calendarMember(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}
	isOwner := access.RequireRole(cm, access.AdminRoles...) == nil
	if !isOwner {
		own, err := s.eventMember(ctx, eventID, actorID)
		if err != nil {
			return nil, err
		}
		if own == nil || own.Status == domain.StatusDeclined {
			return nil, fmt.Errorf("not a member of this event: %w", domain.ErrForbidden)
		}
	}

	rows, err := s.members.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	visible := make([]*domain.EventMember, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		if isOwner || m.Status != domain.StatusDeclined {
			visible = append(visible, m)
			ids = append(ids, m.UserID)
		}
	}
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}
	out := make([]domain.MemberView, 0, len(visible))
	for _, m := range visible {
		if u, ok := byID[m.UserID]; ok {
			out = append(out, domain.MemberView{Status: m.Status, JoinedAt: m.CreatedAt, User: u.Public()})
		}
	}
	return out, nil
}

// RemoveMember lets a calendar owner drop a pending or accepted event membership.
func (s *service) RemoveMember(ctx context.Context, actorID, calendarID, eventID, targetUserID string) error {
	if _, err := s.requireCalendarRole(ctx, calendarID, actorID, access.AdminRoles); err != nil {
		return err
	}
	if _, err := s.eventIn(ctx, calendarID, eventID); err != nil {
		return err
	}
	m, err := s.eventMember(ctx, eventID, targetUserID)
	if err != nil {
		return err
	}
	if m == nil || (m.Status != domain.StatusPending && m.Status != domain.StatusAccepted) {
		return fmt.Errorf("no pending or accepted membership to remove: %w", domain.ErrForbidden)
	}
	return s.members.Remove(ctx, eventID, targetUserID)
}

func (s *service) checkInvite(ctx context.Context, userID, rawToken string) (*domain.EventMember, error) {
	tok, err := s.approvals.Peek(ctx, rawToken, domain.TokenEventInvite)
	if err != nil {
		return nil, err
	}
	if tok.UserID != userID {
		return nil, fmt.Errorf("invitation belongs to another user: %w", domain.ErrForbidden)
	}
	if tok.Meta.EventID == "" {
		return nil, fmt.Errorf("invitation is malformed: %w", domain.ErrForbidden)
	}
	if _, err := s.events.Get(ctx, tok.Meta.EventID); err != nil {
		return nil, err
	}
	m, err := s.eventMember(ctx, tok.Meta.EventID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("no invitation found: %w", domain.ErrForbidden)
	}
	return m, nil
}

// requireCalendarRole loads the calendar and checks the actor's calendar role.
func (s *service) requireCalendarRole(ctx context.Context, calendarID, actorID string, allowed []domain.Role) (*domain.Calendar, error) {
	cal, err := s.calendars.Get(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	cm, err := s.calendarMember(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireRole(cm, allowed...); err != nil {
		return nil, err
	}
	return cal, nil
}

// eventIn loads an event and hides it when it belongs to another calendar.
func (s *service) eventIn(ctx context.Context, calendarID, eventID string) (*domain.Event, error) {
	e, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.CalendarID != calendarID {
		return nil, fmt.Errorf("event not found: %w", domain.ErrNotFound)
	}
	return e, nil
}

func (s *service) calendarMember(ctx context.Context, calendarID, userID string) (*domain.CalendarMember, error) {
	m, err := s.calendarMembers.Get(ctx, calendarID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (s *service) eventMember(ctx context.Context, eventID, userID string) (*domain.EventMember, error) {
	m, err := s.members.Get(ctx, eventID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (s *service) displayName(ctx context.Context, userID string) string {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		slog.Warn("load inviter", "user_id", userID, "err", err)
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
