// Package access decides whether a membership row grants an action.
// The functions are pure; callers load the rows.
package access

import (
	"fmt"
	"slices"

	"github.com/go-calendar-nosql/internal/domain"
)

// Role sets used by the calendar and event services.
var (
	ReadRoles  = []domain.Role{domain.RoleOwner, domain.RoleEditor, domain.RoleViewer}
	WriteRoles = []domain.Role{domain.RoleOwner, domain.RoleEditor}
	AdminRoles = []domain.Role{domain.RoleOwner}
)

// RequireMembership returns m if it is an accepted calendar membership.
func RequireMembership(m *domain.CalendarMember) (*domain.CalendarMember, error) {
	if m == nil || m.Status != domain.StatusAccepted {
		return nil, fmt.Errorf("not a member of this calendar: %w", domain.ErrForbidden)
	}
	return m, nil
}

// RequireRole checks that m is accepted and holds one of allowed.
func RequireRole(m *domain.CalendarMember, allowed ...domain.Role) error {
	if _, err := RequireMembership(m); err != nil {
		return err
	}
	if !slices.Contains(allowed, m.Role) {
		return fmt.Errorf("role %s is not allowed: %w", m.Role, domain.ErrForbidden)
	}
	return nil
}

// RequireEventMembership returns m if it is an accepted event membership.
func RequireEventMembership(m *domain.EventMember) (*domain.EventMember, error) {
	if m == nil || m.Status != domain.StatusAccepted {
		return nil, fmt.Errorf("not a member of this event: %w", domain.ErrForbidden)
	}
	return m, nil
}
