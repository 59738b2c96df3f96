package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-calendar-nosql/internal/application/access"
	"github.com/go-calendar-nosql/internal/domain"
	"github.com/go-calendar-nosql/internal/pkg/id"
)

// Service owns calendars and the membership lifecycle of their users.
type Service interface {
	CreateCalendar(ctx context.Context, actorID string, req domain.CreateCalendarRequest) (*domain.Calendar, error)
	ListMyCalendars(ctx context.Context, actorID string) ([]domain.MyCalendar, error)
	GetCalendar(ctx context.Context, actorID, calendarID string) (*domain.MyCalendar, error)
	UpdateCalendar(ctx context.Context, actorID, calendarID string, patch domain.CalendarPatch) (*domain.Calendar, error)
	DeleteCalendar(ctx context.Context, actorID, calendarID string) error

	ListMembers(ctx context.Context, actorID, calendarID string) ([]domain.MemberView, error)
	Invite(ctx context.Context, inviterID, calendarID, email string, role domain.Role) (*domain.InviteResult, error)
	AcceptInvite(ctx context.Context, userID, rawToken string) (*domain.CalendarMember, error)
	DeclineInvite(ctx context.Context, userID, rawToken string) error
	UpdateMemberRole(ctx context.Context, actorID, calendarID, targetUserID string, role domain.Role) (*domain.CalendarMember, error)
	RemoveMember(ctx context.Context, actorID, calendarID, targetUserID string) error
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.User, error)
}

type calendarStore interface {
	Create(ctx context.Context, cal *domain.Calendar, owner *domain.CalendarMember) error
	Get(ctx context.Context, calendarID string) (*domain.Calendar, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.Calendar, error)
	Update(ctx context.Context, calendarID string, patch domain.CalendarPatch) error
	Delete(ctx context.Context, calendarID string) error
}

type memberStore interface {
	Get(ctx context.Context, calendarID, userID string) (*domain.CalendarMember, error)
	ListByCalendar(ctx context.Context, calendarID string) ([]*domain.CalendarMember, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.CalendarMember, error)
	PutPending(ctx context.Context, m *domain.CalendarMember) error
	Accept(ctx context.Context, calendarID, userID string, role domain.Role, at time.Time) error
	Decline(ctx context.Context, calendarID, userID string, at time.Time) error
	ChangeRole(ctx context.Context, cur *domain.CalendarMember, to domain.Role, at time.Time) error
	Remove(ctx context.Context, cur *domain.CalendarMember) error
	Restore(ctx context.Context, cur, prev *domain.CalendarMember) error
	DeleteByCalendar(ctx context.Context, calendarID string) error
}

type eventStore interface {
	DeleteByCalendar(ctx context.Context, calendarID string) ([]string, error)
}

type eventMemberStore interface {
	DeleteByEvent(ctx context.Context, eventID string) error
}

type approver interface {
	Mint(ctx context.Context, userID string, tokenType domain.TokenType, ttl time.Duration, meta domain.TokenMeta) (string, error)
	Peek(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error)
	Consume(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error)
	Discard(ctx context.Context, raw string) error
}

type notifier interface {
	SendCalendarInvite(ctx context.Context, toEmail, rawToken string, info domain.CalendarInviteInfo) error
}

type service struct {
	users        userStore
	calendars    calendarStore
	members      memberStore
	events       eventStore
	eventMembers eventMemberStore
	approvals    approver
	notifier     notifier
	inviteTTL    time.Duration
	now          func() time.Time
}

type ServiceDeps struct {
	UserRepo        userStore
	CalendarRepo    calendarStore
	MemberRepo      memberStore
	EventRepo       eventStore
	EventMemberRepo eventMemberStore
	Approvals       approver
	Notifier        notifier
	InviteTTL       time.Duration
	Now             func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		users:        deps.UserRepo,
		calendars:    deps.CalendarRepo,
		members:      deps.MemberRepo,
		events:       deps.EventRepo,
		eventMembers: deps.EventMemberRepo,
		approvals:    deps.Approvals,
		notifier:     deps.Notifier,
		inviteTTL:    deps.InviteTTL,
		now:          now,
	}
}

func (s *service) CreateCalendar(ctx context.Context, actorID string, req domain.CreateCalendarRequest) (*domain.Calendar, error) {
	if req.Type == domain.CalendarPrimary {
		has, err := s.ownsPrimary(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, domain.ErrPrimaryCalendarExists
		}
	}
	now := s.now().UTC()
	cal := &domain.Calendar{
		CalendarID:  id.NewAt(now),
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := &domain.CalendarMember{
		CalendarID: cal.CalendarID,
		UserID:     actorID,
		Role:       domain.RoleOwner,
		Status:     domain.StatusAccepted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.calendars.Create(ctx, cal, owner); err != nil {
		return nil, fmt.Errorf("create calendar: %w", err)
	}
	return cal, nil
}

func (s *service) ListMyCalendars(ctx context.Context, actorID string) ([]domain.MyCalendar, error) {
	rows, err := s.members.ListByUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	accepted := make([]*domain.CalendarMember, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		if m.Status == domain.StatusAccepted {
			accepted = append(accepted, m)
			ids = append(ids, m.CalendarID)
		}
	}
	cals, err := s.calendars.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Calendar, len(cals))
	for _, c := range cals {
		byID[c.CalendarID] = c
	}
	out := make([]domain.MyCalendar, 0, len(accepted))
	for _, m := range accepted {
		c, ok := byID[m.CalendarID]
		if !ok {
			continue
		}
		out = append(out, domain.MyCalendar{Role: m.Role, JoinedAt: m.CreatedAt, Calendar: c})
	}
	return out, nil
}

func (s *service) GetCalendar(ctx context.Context, actorID, calendarID string) (*domain.MyCalendar, error) {
	cal, err := s.calendars.Get(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	actor, err := s.member(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireRole(actor, access.ReadRoles...); err != nil {
		return nil, err
	}
	return &domain.MyCalendar{Role: actor.Role, JoinedAt: actor.CreatedAt, Calendar: cal}, nil
}

func (s *service) UpdateCalendar(ctx context.Context, actorID, calendarID string, patch domain.CalendarPatch) (*domain.Calendar, error) {
	cal, err := s.calendars.Get(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	actor, err := s.member(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireRole(actor, access.WriteRoles...); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return cal, nil
	}
	if patch.Type != nil && *patch.Type == domain.CalendarPrimary && cal.Type != domain.CalendarPrimary {
		has, err := s.ownsPrimary(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, domain.ErrPrimaryCalendarExists
		}
	}
	if err := s.calendars.Update(ctx, calendarID, patch); err != nil {
		return nil, fmt.Errorf("update calendar: %w", err)
	}
	return s.calendars.Get(ctx, calendarID)
}

// DeleteCalendar removes the calendar's events, their event memberships and
// the calendar memberships before the calendar itself.
func (s *service) DeleteCalendar(ctx context.Context, actorID, calendarID string) error {
	if _, err := s.calendars.Get(ctx, calendarID); err != nil {
		return err
	}
	actor, err := s.member(ctx, calendarID, actorID)
	if err != nil {
		return err
	}
	if err := access.RequireRole(actor, access.AdminRoles...); err != nil {
		return err
	}

	eventIDs, err := s.events.DeleteByCalendar(ctx, calendarID)
	if err != nil {
		return fmt.Errorf("delete calendar events: %w", err)
	}
	for _, eventID := range eventIDs {
		if err := s.eventMembers.DeleteByEvent(ctx, eventID); err != nil {
			return fmt.Errorf("delete event members: %w", err)
		}
	}
	if err := s.members.DeleteByCalendar(ctx, calendarID); err != nil {
		return fmt.Errorf("delete calendar members: %w", err)
	}
	return s.calendars.Delete(ctx, calendarID)
}

// ListMembers returns accepted members to every reader; owners also see pending and declined rows.
func (s *service) ListMembers(ctx context.Context, actorID, calendarID string) ([]domain.MemberView, error) {
	if _, err := s.calendars.Get(ctx, calendarID); err != nil {
		return nil, err
	}
	actor, err := s.member(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireRole(actor, access.ReadRoles...); err != nil {
		return nil, err
	}
	rows, err := s.members.ListByCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	isOwner := actor.Role == domain.RoleOwner
	visible := make([]*domain.CalendarMember, 0, len(rows))
	for _, m := range rows {
		if isOwner || m.Status == domain.StatusAccepted {
			visible = append(visible, m)
		}
	}

	ids := make([]string, 0, len(visible))
	for _, m := range visible {
		ids = append(ids, m.UserID)
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
		u, ok := byID[m.UserID]
		if !ok {
			continue
		}
		out = append(out, domain.MemberView{Role: m.Role, Status: m.Status, JoinedAt: m.CreatedAt, User: u.Public()})
	}
	return out, nil
}

func (s *service) Invite(ctx context.Context, inviterID, calendarID, email string, role domain.Role) (*domain.InviteResult, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q: %w", role, domain.ErrBadRequest)
	}
	cal, err := s.calendars.Get(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	actor, err := s.member(ctx, calendarID, inviterID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireRole(actor, access.AdminRoles...); err != nil {
		return nil, err
	}

	target, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	existing, err := s.member(ctx, calendarID, target.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch {
		case existing.Status == domain.StatusAccepted:
			return nil, fmt.Errorf("user is already a member: %w", domain.ErrForbidden)
		case existing.Status == domain.StatusPending && existing.Role == role:
			return nil, fmt.Errorf("duplicate pending invite: %w", domain.ErrForbidden)
		}
	}

	now := s.now().UTC()
	row := &domain.CalendarMember{
		CalendarID: calendarID,
		UserID:     target.UserID,
		Role:       role,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing != nil {
		row.CreatedAt = existing.CreatedAt
	}
	if err := s.members.PutPending(ctx, row); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("user is already a member: %w", domain.ErrForbidden)
		}
		return nil, fmt.Errorf("store invitation: %w", err)
	}

	raw, err := s.approvals.Mint(ctx, target.UserID, domain.TokenCalendarInvite, s.inviteTTL,
		domain.TokenMeta{CalendarID: calendarID, Role: role})
	if err != nil {
		s.rollbackInvite(ctx, "", row, existing)
		return nil, err
	}
	info := domain.CalendarInviteInfo{CalendarName: cal.Name, Role: role, InvitedBy: s.displayName(ctx, inviterID)}
	if err := s.notifier.SendCalendarInvite(ctx, target.Email, raw, info); err != nil {
		s.rollbackInvite(ctx, raw, row, existing)
		return nil, fmt.Errorf("send calendar invite: %w", err)
	}
	return &domain.InviteResult{Email: target.Email, Role: role, CalendarID: calendarID}, nil
}

func (s *service) AcceptInvite(ctx context.Context, userID, rawToken string) (*domain.CalendarMember, error) {
	tok, m, err := s.checkInvite(ctx, userID, rawToken)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusPending {
		return nil, fmt.Errorf("invitation is no longer pending: %w", domain.ErrForbidden)
	}
	if _, err := s.approvals.Consume(ctx, rawToken, domain.TokenCalendarInvite); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.members.Accept(ctx, m.CalendarID, userID, tok.Meta.Role, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("invitation is no longer pending: %w", domain.ErrForbidden)
		}
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	m.Role = tok.Meta.Role
	m.Status = domain.StatusAccepted
	m.UpdatedAt = now
	return m, nil
}

// DeclineInvite is a no-op for an already declined membership, but the token is still spent.
func (s *service) DeclineInvite(ctx context.Context, userID, rawToken string) error {
	_, m, err := s.checkInvite(ctx, userID, rawToken)
	if err != nil {
		return err
	}
	switch m.Status {
	case domain.StatusAccepted:
		return fmt.Errorf("invitation was already accepted: %w", domain.ErrForbidden)
	case domain.StatusDeclined:
		_, err := s.approvals.Consume(ctx, rawToken, domain.TokenCalendarInvite)
		return err
	}
	if _, err := s.approvals.Consume(ctx, rawToken, domain.TokenCalendarInvite); err != nil {
		return err
	}
	if err := s.members.Decline(ctx, m.CalendarID, userID, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("invitation is no longer pending: %w", domain.ErrForbidden)
		}
		return fmt.Errorf("decline invitation: %w", err)
	}
	return nil
}

func (s *service) UpdateMemberRole(ctx context.Context, actorID, calendarID, targetUserID string, role domain.Role) (*domain.CalendarMember, error) {
	if _, err := s.calendars.Get(ctx, calendarID); err != nil {
		return nil, err
	}
	actor, err := s.member(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireRole(actor, access.AdminRoles...); err != nil {
		return nil, err
	}
	if role != domain.RoleViewer && role != domain.RoleEditor {
		return nil, fmt.Errorf("role can only be changed to viewer or editor: %w", domain.ErrForbidden)
	}
	target, err := s.member(ctx, calendarID, targetUserID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("calendar member not found: %w", domain.ErrNotFound)
	}
	if target.Status != domain.StatusAccepted {
		return nil, fmt.Errorf("member has not accepted the invitation: %w", domain.ErrForbidden)
	}
	if target.Role == role {
		return target, nil
	}
	now := s.now().UTC()
	if err := s.members.ChangeRole(ctx, target, role, now); err != nil {
		return nil, err
	}
	target.Role = role
	target.UpdatedAt = now
	return target, nil
}

// RemoveMember lets any member remove themselves; removing someone else takes an owner.
func (s *service) RemoveMember(ctx context.Context, actorID, calendarID, targetUserID string) error {
	if _, err := s.calendars.Get(ctx, calendarID); err != nil {
		return err
	}
	if actorID != targetUserID {
		actor, err := s.member(ctx, calendarID, actorID)
		if err != nil {
			return err
		}
		if err := access.RequireRole(actor, access.AdminRoles...); err != nil {
			return err
		}
	}
	target, err := s.member(ctx, calendarID, targetUserID)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("calendar member not found: %w", domain.ErrNotFound)
	}
	return s.members.Remove(ctx, target)
}

// checkInvite verifies a calendar_invite token without spending it and loads
// the membership row it refers to.
func (s *service) checkInvite(ctx context.Context, userID, rawToken string) (*domain.ApprovalToken, *domain.CalendarMember, error) {
	tok, err := s.approvals.Peek(ctx, rawToken, domain.TokenCalendarInvite)
	if err != nil {
		return nil, nil, err
	}
	if tok.UserID != userID {
		return nil, nil, fmt.Errorf("invitation belongs to another user: %w", domain.ErrForbidden)
	}
	if tok.Meta.CalendarID == "" || !tok.Meta.Role.Valid() {
		return nil, nil, fmt.Errorf("invitation is malformed: %w", domain.ErrForbidden)
	}
	if _, err := s.calendars.Get(ctx, tok.Meta.CalendarID); err != nil {
		return nil, nil, err
	}
	m, err := s.member(ctx, tok.Meta.CalendarID, userID)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, fmt.Errorf("no invitation found: %w", domain.ErrForbidden)
	}
	return tok, m, nil
}

// rollbackInvite undoes an invitation that never reached the invitee. Discarding
// the new token reinstates the one it replaced, and the membership row returns
// to its previous state.
func (s *service) rollbackInvite(ctx context.Context, raw string, row, existing *domain.CalendarMember) {
	if err := s.approvals.Discard(ctx, raw); err != nil {
		slog.Warn("discard undelivered invite token", "calendar_id", row.CalendarID, "err", err)
	}
	var err error
	if existing == nil {
		err = s.members.Remove(ctx, row)
	} else {
		err = s.members.Restore(ctx, row, existing)
	}
	if err != nil {
		slog.Warn("roll back undelivered invitation", "calendar_id", row.CalendarID, "user_id", row.UserID, "err", err)
	}
}

// member returns the membership row or nil when the user has none.
func (s *service) member(ctx context.Context, calendarID, userID string) (*domain.CalendarMember, error) {
	m, err := s.members.Get(ctx, calendarID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *service) ownsPrimary(ctx context.Context, userID string) (bool, error) {
	rows, err := s.members.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	var ids []string
	for _, m := range rows {
		if m.AcceptedOwner() {
			ids = append(ids, m.CalendarID)
		}
	}
	if len(ids) == 0 {
		return false, nil
	}
	cals, err := s.calendars.GetMany(ctx, ids)
	if err != nil {
		return false, err
	}
	for _, c := range cals {
		if c.Type == domain.CalendarPrimary {
			return true, nil
		}
	}
	return false, nil
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
