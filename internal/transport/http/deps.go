package http

import (
	"context"
	"io"
	"time"

	"github.com/go-calendar-nosql/internal/domain"
)

// UserRepository is the minimal interface the router requires from a user store.
type UserRepository interface {
	Put(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.User, error)
	Update(ctx context.Context, userID string, patch domain.UserPatch) error
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
}

// CalendarRepository is the minimal interface the router requires from a calendar store.
type CalendarRepository interface {
	Create(ctx context.Context, cal *domain.Calendar, owner *domain.CalendarMember) error
	Get(ctx context.Context, calendarID string) (*domain.Calendar, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.Calendar, error)
	Update(ctx context.Context, calendarID string, patch domain.CalendarPatch) error
	Delete(ctx context.Context, calendarID string) error
}

// CalendarMemberRepository must apply role and owner-count changes atomically.
type CalendarMemberRepository interface {
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

// EventRepository is the minimal interface the router requires from an event store.
type EventRepository interface {
	Put(ctx context.Context, e *domain.Event) error
	Update(ctx context.Context, e *domain.Event) error
	Get(ctx context.Context, eventID string) (*domain.Event, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.Event, error)
	ListByCalendar(ctx context.Context, calendarID string) ([]*domain.Event, error)
	Delete(ctx context.Context, eventID string) error
	DeleteByCalendar(ctx context.Context, calendarID string) ([]string, error)
}

// EventMemberRepository is the minimal interface the router requires from an event member store.
type EventMemberRepository interface {
	Get(ctx context.Context, eventID, userID string) (*domain.EventMember, error)
	ListByEvent(ctx context.Context, eventID string) ([]*domain.EventMember, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.EventMember, error)
	PutPending(ctx context.Context, m *domain.EventMember) error
	SetStatus(ctx context.Context, eventID, userID string, from, to domain.MemberStatus, at time.Time) error
	Remove(ctx context.Context, eventID, userID string) error
	DeleteByEvent(ctx context.Context, eventID string) error
}

// TokenRepository must make Create and MarkUsed atomic.
type TokenRepository interface {
	Create(ctx context.Context, t *domain.ApprovalToken) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.ApprovalToken, error)
	MarkUsed(ctx context.Context, tokenHash string, now time.Time) error
	LatestByUserAndType(ctx context.Context, userID string, tokenType domain.TokenType) (*domain.ApprovalToken, error)
	Withdraw(ctx context.Context, tokenHash string) error
}

// ObjectStore is the minimal interface the router requires from an object storage backend.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// Notifier delivers the emails that carry approval tokens.
type Notifier interface {
	SendEmailVerification(ctx context.Context, toEmail, rawToken string) error
	SendCalendarInvite(ctx context.Context, toEmail, rawToken string, info domain.CalendarInviteInfo) error
	SendEventInvite(ctx context.Context, toEmail, rawToken string, info domain.EventInviteInfo) error
}
