package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-calendar-nosql/internal/domain"
)

type EventMemberRepo struct{ s *Store }

func (r *EventMemberRepo) Get(_ context.Context, eventID, userID string) (*domain.EventMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.eventMembers[memberKey{eventID, userID}]
	if !ok {
		return nil, fmt.Errorf("event member not found: %w", domain.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (r *EventMemberRepo) ListByEvent(_ context.Context, eventID string) ([]*domain.EventMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.EventMember
	for k, m := range r.s.eventMembers {
		if k.parentID == eventID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(m *domain.EventMember) int64 { return m.CreatedAt.UnixNano() })
	return out, nil
}

func (r *EventMemberRepo) ListByUser(_ context.Context, userID string) ([]*domain.EventMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.EventMember
	for k, m := range r.s.eventMembers {
		if k.userID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortByCreated(out, func(m *domain.EventMember) int64 { return m.CreatedAt.UnixNano() })
	return out, nil
}

func (r *EventMemberRepo) PutPending(_ context.Context, m *domain.EventMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := memberKey{m.EventID, m.UserID}
	if cur, ok := r.s.eventMembers[k]; ok && cur.Status == domain.StatusAccepted {
		return fmt.Errorf("member already accepted: %w", domain.ErrConflict)
	}
	cp := *m
	cp.Status = domain.StatusPending
	r.s.eventMembers[k] = &cp
	return nil
}

// SetStatus moves a row from one status to another, failing with ErrConflict
// if the row is not currently in from.
func (r *EventMemberRepo) SetStatus(_ context.Context, eventID, userID string, from, to domain.MemberStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.eventMembers[memberKey{eventID, userID}]
	if !ok || m.Status != from {
		return fmt.Errorf("event member is not %s: %w", from, domain.ErrConflict)
	}
	m.Status = to
	m.UpdatedAt = at
	return nil
}

func (r *EventMemberRepo) Remove(_ context.Context, eventID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.eventMembers, memberKey{eventID, userID})
	return nil
}

func (r *EventMemberRepo) DeleteByEvent(_ context.Context, eventID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for k := range r.s.eventMembers {
		if k.parentID == eventID {
			delete(r.s.eventMembers, k)
		}
	}
	return nil
}
