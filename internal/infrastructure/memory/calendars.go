package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-calendar-nosql/internal/domain"
)

type CalendarRepo struct{ s *Store }

// Create stores the calendar together with its first owner membership.
func (r *CalendarRepo) Create(_ context.Context, cal *domain.Calendar, owner *domain.CalendarMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.calendars[cal.CalendarID]; ok {
		return fmt.Errorf("calendar %s exists: %w", cal.CalendarID, domain.ErrConflict)
	}
	c := *cal
	c.OwnerCount = 1
	m := *owner
	r.s.calendars[c.CalendarID] = &c
	r.s.calendarMembers[memberKey{c.CalendarID, m.UserID}] = &m
	cal.OwnerCount = 1
	return nil
}

func (r *CalendarRepo) Get(_ context.Context, calendarID string) (*domain.Calendar, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar not found: %w", domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *CalendarRepo) GetMany(_ context.Context, ids []string) ([]*domain.Calendar, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.Calendar, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.s.calendars[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *CalendarRepo) Update(_ context.Context, calendarID string, patch domain.CalendarPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calendars[calendarID]
	if !ok {
		return fmt.Errorf("calendar not found: %w", domain.ErrNotFound)
	}
	patch.Apply(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CalendarRepo) Delete(_ context.Context, calendarID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.calendars, calendarID)
	return nil
}
