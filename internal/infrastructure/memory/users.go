package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-calendar-nosql/internal/domain"
)

type UserRepo struct{ s *Store }

func (r *UserRepo) Put(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.UserID]; ok {
		return fmt.Errorf("user %s exists: %w", u.UserID, domain.ErrConflict)
	}
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return domain.ErrUserAlreadyExists
		}
	}
	cp := *u
	r.s.users[u.UserID] = &cp
	return nil
}

func (r *UserRepo) Get(_ context.Context, userID string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
}

// GetMany returns the users that exist among ids, in no particular order.
func (r *UserRepo) GetMany(_ context.Context, ids []string) ([]*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *UserRepo) Update(_ context.Context, userID string, patch domain.UserPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Avatar != nil {
		u.Avatar = patch.Avatar
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *UserRepo) MarkEmailVerified(_ context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	u.EmailVerified = true
	u.EmailVerifiedAt = &at
	u.UpdatedAt = at
	return nil
}
