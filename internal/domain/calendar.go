package domain

import "time"

// CalendarType distinguishes a user's single primary calendar from the rest.
type CalendarType string

const (
	CalendarPrimary  CalendarType = "primary"
	CalendarHolidays CalendarType = "holidays"
	CalendarOrdinary CalendarType = "ordinary"
)

// Calendar is the sharing aggregate root. OwnerCount mirrors the number of
// accepted owner memberships and is only changed together with them.
type Calendar struct {
	CalendarID  string       `json:"id" dynamodbav:"calendar_id"`
	Type        CalendarType `json:"type" dynamodbav:"type"`
	Name        string       `json:"name" dynamodbav:"name"`
	Description string       `json:"description,omitempty" dynamodbav:"description"`
	Color       string       `json:"color,omitempty" dynamodbav:"color"`
	OwnerCount  int          `json:"-" dynamodbav:"owner_count"`
	CreatedAt   time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time    `json:"updated" dynamodbav:"updated_at"`
}

type CreateCalendarRequest struct {
	Type        CalendarType `json:"type" validate:"required,oneof=primary holidays ordinary"`
	Name        string       `json:"name" validate:"required,max=200"`
	Description string       `json:"description" validate:"max=2000"`
	Color       string       `json:"color" validate:"omitempty,max=32"`
}

// CalendarPatch carries the calendar fields a PATCH may change. Nil fields are left alone.
type CalendarPatch struct {
	Type        *CalendarType `json:"type" validate:"omitempty,oneof=primary holidays ordinary"`
	Name        *string       `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string       `json:"description" validate:"omitempty,max=2000"`
	Color       *string       `json:"color" validate:"omitempty,max=32"`
}

// Empty reports whether the patch changes nothing.
func (p CalendarPatch) Empty() bool {
	return p.Type == nil && p.Name == nil && p.Description == nil && p.Color == nil
}

// Apply copies the set fields onto c.
func (p CalendarPatch) Apply(c *Calendar) {
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Color != nil {
		c.Color = *p.Color
	}
}

// MyCalendar is one entry of a user's calendar list.
type MyCalendar struct {
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	Calendar *Calendar `json:"calendar"`
}

type InviteCalendarMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  Role   `json:"role" validate:"required,oneof=owner editor viewer"`
}

type UpdateMemberRoleRequest struct {
	Role Role `json:"role" validate:"required"`
}

// InviteResult describes who an invitation was sent to.
type InviteResult struct {
	Email      string `json:"email"`
	Role       Role   `json:"role,omitempty"`
	CalendarID string `json:"calendar_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
}

// CalendarInviteInfo is the context a calendar invitation email shows.
type CalendarInviteInfo struct {
	CalendarName string
	Role         Role
	InvitedBy    string
}
