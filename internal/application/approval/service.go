package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-calendar-nosql/internal/domain"
	pkgtoken "github.com/go-calendar-nosql/internal/pkg/token"
)

// Service issues and redeems single-use tokens.
type Service interface {
	// Mint creates a token and invalidates every unused token with the same scope.
	// The returned raw value is the only copy; only its hash is stored.
	Mint(ctx context.Context, userID string, tokenType domain.TokenType, ttl time.Duration, meta domain.TokenMeta) (string, error)
	// Consume validates the token and marks it used. A token is consumed at most once.
	Consume(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error)
	// Peek runs the same checks as Consume without marking the token used.
	Peek(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error)
	// LastIssued returns the most recently created token of the type for the user, or nil.
	LastIssued(ctx context.Context, userID string, tokenType domain.TokenType) (*domain.ApprovalToken, error)
	// Discard deletes a token that was never delivered. The token it replaced
	// in the same scope becomes redeemable again if nothing else used it meanwhile.
	Discard(ctx context.Context, raw string) error
}

type tokenStore interface {
	Create(ctx context.Context, t *domain.ApprovalToken) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.ApprovalToken, error)
	MarkUsed(ctx context.Context, tokenHash string, now time.Time) error
	LatestByUserAndType(ctx context.Context, userID string, tokenType domain.TokenType) (*domain.ApprovalToken, error)
	Withdraw(ctx context.Context, tokenHash string) error
}

type service struct {
	repo tokenStore
	now  func() time.Time
}

type ServiceDeps struct {
	TokenRepo tokenStore
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{repo: deps.TokenRepo, now: now}
}

func (s *service) Mint(ctx context.Context, userID string, tokenType domain.TokenType, ttl time.Duration, meta domain.TokenMeta) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("token owner is required: %w", domain.ErrBadRequest)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive: %w", domain.ErrBadRequest)
	}
	if err := checkMeta(tokenType, meta); err != nil {
		return "", err
	}

	raw, err := pkgtoken.New()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	t := &domain.ApprovalToken{
		TokenHash: pkgtoken.Hash(raw),
		UserID:    userID,
		Type:      tokenType,
		Meta:      meta,
		ScopeKey:  domain.ScopeKey(userID, tokenType, meta),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return raw, nil
}

func (s *service) Consume(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error) {
	now := s.now().UTC()
	t, err := s.lookup(ctx, raw, expected, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkUsed(ctx, t.TokenHash, now); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			// Another request redeemed or invalidated it first.
			return nil, domain.ErrTokenInvalidOrExpired
		}
		return nil, fmt.Errorf("mark token used: %w", err)
	}
	t.Used = true
	return t, nil
}

func (s *service) Peek(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error) {
	return s.lookup(ctx, raw, expected, s.now().UTC())
}

func (s *service) LastIssued(ctx context.Context, userID string, tokenType domain.TokenType) (*domain.ApprovalToken, error) {
	t, err := s.repo.LatestByUserAndType(ctx, userID, tokenType)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) Discard(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return s.repo.Withdraw(ctx, pkgtoken.Hash(raw))
}

func (s *service) lookup(ctx context.Context, raw string, expected domain.TokenType, now time.Time) (*domain.ApprovalToken, error) {
	if raw == "" {
		return nil, domain.ErrTokenInvalidOrExpired
	}
	t, err := s.repo.GetByHash(ctx, pkgtoken.Hash(raw))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrTokenInvalidOrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if !t.Live(now) {
		return nil, domain.ErrTokenInvalidOrExpired
	}
	if t.Type != expected {
		return nil, domain.ErrTokenTypeMismatch
	}
	return t, nil
}

func checkMeta(tokenType domain.TokenType, meta domain.TokenMeta) error {
	switch tokenType {
	case domain.TokenEmailVerify:
		return nil
	case domain.TokenCalendarInvite:
		if meta.CalendarID == "" || !meta.Role.Valid() {
			return fmt.Errorf("calendar invite requires calendar_id and role: %w", domain.ErrBadRequest)
		}
		return nil
	case domain.TokenEventInvite:
		if meta.EventID == "" {
			return fmt.Errorf("event invite requires event_id: %w", domain.ErrBadRequest)
		}
		return nil
	default:
		return fmt.Errorf("unknown token type %q: %w", tokenType, domain.ErrBadRequest)
	}
}
