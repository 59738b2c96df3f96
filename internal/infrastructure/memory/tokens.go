package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-calendar-nosql/internal/domain"
)

type TokenRepo struct{ s *Store }

// Create marks every unused token with the same scope as used, then stores t.
// The invalidated token is linked to t so Withdraw can reinstate it.
func (r *TokenRepo) Create(_ context.Context, t *domain.ApprovalToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[t.TokenHash]; ok {
		return fmt.Errorf("token exists: %w", domain.ErrConflict)
	}
	cp := *t
	cp.Supersedes = ""
	for _, old := range r.s.tokens {
		if old.ScopeKey == t.ScopeKey && !old.Used {
			old.Used = true
			old.SupersededBy = t.TokenHash
			cp.Supersedes = old.TokenHash
		}
	}
	r.s.tokens[t.TokenHash] = &cp
	return nil
}

func (r *TokenRepo) GetByHash(_ context.Context, tokenHash string) (*domain.ApprovalToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tokens[tokenHash]
	if !ok {
		return nil, fmt.Errorf("token not found: %w", domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// MarkUsed flips used for a live token. It fails with ErrConflict when the
// token is already used or expired at now.
func (r *TokenRepo) MarkUsed(_ context.Context, tokenHash string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[tokenHash]
	if !ok {
		return fmt.Errorf("token not found: %w", domain.ErrNotFound)
	}
	if !t.Live(now) {
		return fmt.Errorf("token not live: %w", domain.ErrConflict)
	}
	t.Used = true
	return nil
}

func (r *TokenRepo) LatestByUserAndType(_ context.Context, userID string, tokenType domain.TokenType) (*domain.ApprovalToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.ApprovalToken
	for _, t := range r.s.tokens {
		if t.UserID != userID || t.Type != tokenType {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("token not found: %w", domain.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

// Withdraw deletes an undelivered token. If it is still unused, the token it
// superseded is marked unused again. A missing token is not an error.
func (r *TokenRepo) Withdraw(_ context.Context, tokenHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[tokenHash]
	if !ok {
		return nil
	}
	delete(r.s.tokens, tokenHash)
	if t.Used || t.Supersedes == "" {
		return nil
	}
	if prev, ok := r.s.tokens[t.Supersedes]; ok && prev.SupersededBy == tokenHash {
		prev.Used = false
		prev.SupersededBy = ""
	}
	return nil
}
