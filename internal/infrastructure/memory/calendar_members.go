package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-calendar-nosql/internal/domain"
)

type CalendarMemberRepo struct{ s *Store }

func (r *CalendarMemberRepo) Get(_ context.Context, calendarID, userID string) (*domain.CalendarMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.calendarMembers[memberKey{calendarID, userID}]
	if !ok {
		return nil, fmt.Errorf("calendar member not found: %w", domain.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (r *CalendarMemberRepo) ListByCalendar(_ context.Context, calendarID string) ([]*domain.CalendarMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.CalendarMember
	for k, m := range r.s.calendarMembers {
		if k.parentID == calendarID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(m *domain.CalendarMember) int64 { return m.CreatedAt.UnixNano() })
	return out, nil
}

func (r *CalendarMemberRepo) ListByUser(_ context.Context, userID string) ([]*domain.CalendarMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.CalendarMember
	for k, m := range r.s.calendarMembers {
		if k.userID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(m *domain.CalendarMember) int64 { return m.CreatedAt.UnixNano() })
	return out, nil
}

// PutPending creates or resets an invitation row. Accepted rows are never overwritten.
func (r *CalendarMemberRepo) PutPending(_ context.Context, m *domain.CalendarMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := memberKey{m.CalendarID, m.UserID}
	if cur, ok := r.s.calendarMembers[k]; ok && cur.Status == domain.StatusAccepted {
		return fmt.Errorf("member already accepted: %w", domain.ErrConflict)
	}
	cp := *m
	cp.Status = domain.StatusPending
	r.s.calendarMembers[k] = &cp
	return nil
}

// Accept moves a pending row to accepted with the given role.
func (r *CalendarMemberRepo) Accept(_ context.Context, calendarID, userID string, role domain.Role, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.calendarMembers[memberKey{calendarID, userID}]
	if !ok || m.Status != domain.StatusPending {
		return fmt.Errorf("invitation is not pending: %w", domain.ErrConflict)
	}
	c, ok := r.s.calendars[calendarID]
	if !ok {
		return fmt.Errorf("calendar not found: %w", domain.ErrNotFound)
	}
	m.Role = role
	m.Status = domain.StatusAccepted
	m.UpdatedAt = at
	if role == domain.RoleOwner {
		c.OwnerCount++
	}
	return nil
}

func (r *CalendarMemberRepo) Decline(_ context.Context, calendarID, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.calendarMembers[memberKey{calendarID, userID}]
	if !ok || m.Status != domain.StatusPending {
		return fmt.Errorf("invitation is not pending: %w", domain.ErrConflict)
	}
	m.Status = domain.StatusDeclined
	m.UpdatedAt = at
	return nil
}

// ChangeRole updates an accepted member's role. cur is the row the caller read;
// the write fails with ErrConflict if it changed since.
func (r *CalendarMemberRepo) ChangeRole(_ context.Context, cur *domain.CalendarMember, to domain.Role, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.calendarMembers[memberKey{cur.CalendarID, cur.UserID}]
	if !ok || m.Status != domain.StatusAccepted || m.Role != cur.Role {
		return fmt.Errorf("member changed concurrently: %w", domain.ErrConflict)
	}
	c, ok := r.s.calendars[cur.CalendarID]
	if !ok {
		return fmt.Errorf("calendar not found: %w", domain.ErrNotFound)
	}
	switch {
	case m.Role == domain.RoleOwner && to != domain.RoleOwner:
		if c.OwnerCount <= 1 {
			return domain.ErrLastOwner
		}
		c.OwnerCount--
	case m.Role != domain.RoleOwner && to == domain.RoleOwner:
		c.OwnerCount++
	}
	m.Role = to
	m.UpdatedAt = at
	return nil
}

// Remove deletes the row read as cur. Removing the last accepted owner fails with ErrLastOwner.
func (r *CalendarMemberRepo) Remove(_ context.Context, cur *domain.CalendarMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := memberKey{cur.CalendarID, cur.UserID}
	m, ok := r.s.calendarMembers[k]
	if !ok || m.Status != cur.Status || m.Role != cur.Role {
		return fmt.Errorf("member changed concurrently: %w", domain.ErrConflict)
	}
	if m.AcceptedOwner() {
		c, ok := r.s.calendars[cur.CalendarID]
		if ok {
			if c.OwnerCount <= 1 {
				return domain.ErrLastOwner
			}
			c.OwnerCount--
		}
	}
	delete(r.s.calendarMembers, k)
	return nil
}

// Restore puts prev back in place of the pending row cur that an invitation
// wrote. It fails with ErrConflict when the row changed after cur was written.
func (r *CalendarMemberRepo) Restore(_ context.Context, cur, prev *domain.CalendarMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := memberKey{cur.CalendarID, cur.UserID}
	m, ok := r.s.calendarMembers[k]
	if !ok || m.Status != domain.StatusPending || m.Role != cur.Role || !m.UpdatedAt.Equal(cur.UpdatedAt) {
		return fmt.Errorf("member changed concurrently: %w", domain.ErrConflict)
	}
	cp := *prev
	r.s.calendarMembers[k] = &cp
	return nil
}

func (r *CalendarMemberRepo) DeleteByCalendar(_ context.Context, calendarID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for k := range r.s.calendarMembers {
		if k.parentID == calendarID {
			delete(r.s.calendarMembers, k)
		}
	}
	return nil
}
