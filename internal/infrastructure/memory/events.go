package memory

import (
	"context"
	"fmt"

	"github.com/go-calendar-nosql/internal/domain"
)

type EventRepo struct{ s *Store }

func (r *EventRepo) Put(_ context.Context, e *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.events[e.EventID] = &cp
	return nil
}

// Update replaces an existing event.
func (r *EventRepo) Update(_ context.Context, e *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[e.EventID]; !ok {
		return fmt.Errorf("event not found: %w", domain.ErrNotFound)
	}
	cp := *e
	r.s.events[e.EventID] = &cp
	return nil
}

func (r *EventRepo) Get(_ context.Context, eventID string) (*domain.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event not found: %w", domain.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (r *EventRepo) GetMany(_ context.Context, ids []string) ([]*domain.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.s.events[id]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *EventRepo) ListByCalendar(_ context.Context, calendarID string) ([]*domain.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.Event
	for _, e := range r.s.events {
		if e.CalendarID == calendarID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(e *domain.Event) int64 { return e.CreatedAt.UnixNano() })
	return out, nil
}

func (r *EventRepo) Delete(_ context.Context, eventID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.events, eventID)
	return nil
}

// DeleteByCalendar removes every event of the calendar and returns their ids.
func (r *EventRepo) DeleteByCalendar(_ context.Context, calendarID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, e := range r.s.events {
		if e.CalendarID == calendarID {
			ids = append(ids, id)
			delete(r.s.events, id)
		}
	}
	return ids, nil
}
