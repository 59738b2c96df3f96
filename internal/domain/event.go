package domain

import (
	"fmt"
	"time"
)

// EventType selects which of the type-specific fields an Event carries.
type EventType string

const (
	EventArrangement EventType = "arrangement"
	EventReminder    EventType = "reminder"
	EventTask        EventType = "task"
)

// Event belongs to exactly one calendar. Sharing only looks at the envelope
// (EventID, CalendarID, CreatedBy); the remaining fields depend on Type.
// PK: event_id. GSI calendar_id-index: calendar_id.
type Event struct {
	EventID     string    `json:"id" dynamodbav:"event_id"`
	CalendarID  string    `json:"calendar_id" dynamodbav:"calendar_id"`
	CreatedBy   string    `json:"created_by" dynamodbav:"created_by"`
	Type        EventType `json:"type" dynamodbav:"type"`
	Title       string    `json:"title" dynamodbav:"title"`
	Description string    `json:"description,omitempty" dynamodbav:"description"`
	Color       string    `json:"color,omitempty" dynamodbav:"color"`

	// arrangement
	AllDay  bool       `json:"all_day,omitempty" dynamodbav:"all_day"`
	StartAt *time.Time `json:"start_at,omitempty" dynamodbav:"start_at"`
	EndAt   *time.Time `json:"end_at,omitempty" dynamodbav:"end_at"`

	// reminder
	RemindAt *time.Time `json:"remind_at,omitempty" dynamodbav:"remind_at"`

	// task
	DueAt  *time.Time `json:"due_at,omitempty" dynamodbav:"due_at"`
	IsDone bool       `json:"is_done,omitempty" dynamodbav:"is_done"`

	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated" dynamodbav:"updated_at"`
}

// Validate checks the per-type required fields and clears fields that do not
// belong to the event's type.
func (e *Event) Validate() error {
	if e.Title == "" {
		return fmt.Errorf("title is required: %w", ErrBadRequest)
	}
	switch e.Type {
	case EventArrangement:
		if e.StartAt == nil || e.EndAt == nil {
			return fmt.Errorf("arrangement requires start_at and end_at: %w", ErrBadRequest)
		}
		if e.EndAt.Before(*e.StartAt) {
			return fmt.Errorf("end_at is before start_at: %w", ErrBadRequest)
		}
		e.RemindAt, e.DueAt, e.IsDone = nil, nil, false
	case EventReminder:
		if e.RemindAt == nil {
			return fmt.Errorf("reminder requires remind_at: %w", ErrBadRequest)
		}
		e.StartAt, e.EndAt, e.AllDay, e.DueAt, e.IsDone = nil, nil, false, nil, false
	case EventTask:
		if e.DueAt == nil {
			return fmt.Errorf("task requires due_at: %w", ErrBadRequest)
		}
		e.StartAt, e.EndAt, e.AllDay, e.RemindAt = nil, nil, false, nil
	default:
		return fmt.Errorf("unknown event type %q: %w", e.Type, ErrBadRequest)
	}
	return nil
}

// Span returns the instants an event occupies, used for range filtering.
// Reminders and tasks occupy a single instant.
func (e *Event) Span() (time.Time, time.Time, bool) {
	switch e.Type {
	case EventArrangement:
		if e.StartAt != nil && e.EndAt != nil {
			return *e.StartAt, *e.EndAt, true
		}
	case EventReminder:
		if e.RemindAt != nil {
			return *e.RemindAt, *e.RemindAt, true
		}
	case EventTask:
		if e.DueAt != nil {
			return *e.DueAt, *e.DueAt, true
		}
	}
	return time.Time{}, time.Time{}, false
}

type CreateEventRequest struct {
	Type        EventType  `json:"type" validate:"required,oneof=arrangement reminder task"`
	Title       string     `json:"title" validate:"required,max=500"`
	Description string     `json:"description" validate:"max=5000"`
	Color       string     `json:"color" validate:"omitempty,max=32"`
	AllDay      bool       `json:"all_day"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	RemindAt    *time.Time `json:"remind_at"`
	DueAt       *time.Time `json:"due_at"`
	IsDone      bool       `json:"is_done"`
}

// EventPatch carries the event fields a PATCH may change. Type cannot change.
type EventPatch struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=500"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	Color       *string    `json:"color" validate:"omitempty,max=32"`
	AllDay      *bool      `json:"all_day"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	RemindAt    *time.Time `json:"remind_at"`
	DueAt       *time.Time `json:"due_at"`
	IsDone      *bool      `json:"is_done"`
}

func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Color == nil && p.AllDay == nil &&
		p.StartAt == nil && p.EndAt == nil && p.RemindAt == nil && p.DueAt == nil && p.IsDone == nil
}

// Apply copies the set fields onto e. Callers re-run Validate afterwards.
func (p EventPatch) Apply(e *Event) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Color != nil {
		e.Color = *p.Color
	}
	if p.AllDay != nil {
		e.AllDay = *p.AllDay
	}
	if p.StartAt != nil {
		e.StartAt = p.StartAt
	}
	if p.EndAt != nil {
		e.EndAt = p.EndAt
	}
	if p.RemindAt != nil {
		e.RemindAt = p.RemindAt
	}
	if p.DueAt != nil {
		e.DueAt = p.DueAt
	}
	if p.IsDone != nil {
		e.IsDone = *p.IsDone
	}
}

// EventFilter narrows ListEvents and ListSharedEvents. Zero values mean "no constraint".
type EventFilter struct {
	From  *time.Time
	To    *time.Time
	Types []EventType
	Page  int
	Limit int
}

// Matches reports whether e overlaps [From, To] and has one of Types.
func (f EventFilter) Matches(e *Event) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	start, end, ok := e.Span()
	if !ok {
		return f.From == nil && f.To == nil
	}
	if f.From != nil && end.Before(*f.From) {
		return false
	}
	if f.To != nil && start.After(*f.To) {
		return false
	}
	return true
}

type InviteEventMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// TokenRequest is the body of accept/decline endpoints.
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// EventInviteInfo is the context an event invitation email shows.
type EventInviteInfo struct {
	EventTitle string
	InvitedBy  string
}

// EventPage is one page of filtered events.
type EventPage struct {
	Items []*Event `json:"items"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
	Total int      `json:"total"`
}
