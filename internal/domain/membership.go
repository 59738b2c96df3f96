package domain

import "time"

// Role is a calendar member's permission level.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// MemberStatus is the invitation state of a membership row.
type MemberStatus string

const (
	StatusPending  MemberStatus = "pending"
	StatusAccepted MemberStatus = "accepted"
	StatusDeclined MemberStatus = "declined"
)

// CalendarMember links a user to a calendar.
// PK: calendar_id, SK: user_id.
type CalendarMember struct {
	CalendarID string       `json:"calendar_id" dynamodbav:"calendar_id"`
	UserID     string       `json:"user_id" dynamodbav:"user_id"`
	Role       Role         `json:"role" dynamodbav:"role"`
	Status     MemberStatus `json:"status" dynamodbav:"status"`
	CreatedAt  time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt  time.Time    `json:"updated" dynamodbav:"updated_at"`
}

// AcceptedOwner reports whether the row counts towards the calendar's owners.
func (m *CalendarMember) AcceptedOwner() bool {
	return m.Role == RoleOwner && m.Status == StatusAccepted
}

// EventMember grants view access to a single event for a user outside its calendar.
// PK: event_id, SK: user_id.
type EventMember struct {
	EventID   string       `json:"event_id" dynamodbav:"event_id"`
	UserID    string       `json:"user_id" dynamodbav:"user_id"`
	Status    MemberStatus `json:"status" dynamodbav:"status"`
	CreatedAt time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt time.Time    `json:"updated" dynamodbav:"updated_at"`
}

// MemberView is a membership row joined with the public part of its user.
type MemberView struct {
	Role     Role         `json:"role,omitempty"`
	Status   MemberStatus `json:"status"`
	JoinedAt time.Time    `json:"joined_at"`
	User     *PublicUser  `json:"user"`
}
