package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-calendar-nosql/internal/domain"
	"github.com/go-calendar-nosql/internal/pkg/id"
)

const primaryCalendarName = "My Calendar"

// Session is what a successful login returns.
type Session struct {
	AccessToken string       `json:"access_token"`
	User        *domain.User `json:"user"`
}

// ResendRequest identifies the user either by id (authenticated) or by email.
type ResendRequest struct {
	UserID string `json:"-"`
	Email  string `json:"email" validate:"omitempty,email"`
}

type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, req domain.LoginRequest) (*Session, error)
	VerifyEmail(ctx context.Context, rawToken string) (*domain.User, error)
	// ResendVerification reports false when the address is already verified.
	ResendVerification(ctx context.Context, req ResendRequest) (bool, error)
}

type userStore interface {
	Put(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
}

type calendarCreator interface {
	CreateCalendar(ctx context.Context, actorID string, req domain.CreateCalendarRequest) (*domain.Calendar, error)
}

type approver interface {
	Mint(ctx context.Context, userID string, tokenType domain.TokenType, ttl time.Duration, meta domain.TokenMeta) (string, error)
	Consume(ctx context.Context, raw string, expected domain.TokenType) (*domain.ApprovalToken, error)
	LastIssued(ctx context.Context, userID string, tokenType domain.TokenType) (*domain.ApprovalToken, error)
	Discard(ctx context.Context, raw string) error
}

type notifier interface {
	SendEmailVerification(ctx context.Context, toEmail, rawToken string) error
}

type jwtSigner interface {
	Sign(userID, email string) (string, error)
}

type service struct {
	users          userStore
	calendars      calendarCreator
	approvals      approver
	notifier       notifier
	jwtProvider    jwtSigner
	verifyTTL      time.Duration
	resendCooldown time.Duration
	bcryptCost     int
	now            func() time.Time
}

type ServiceDeps struct {
	UserRepo       userStore
	Calendars      calendarCreator
	Approvals      approver
	Notifier       notifier
	JWTProvider    jwtSigner
	VerifyTTL      time.Duration
	ResendCooldown time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &service{
		users:          deps.UserRepo,
		calendars:      deps.Calendars,
		approvals:      deps.Approvals,
		notifier:       deps.Notifier,
		jwtProvider:    deps.JWTProvider,
		verifyTTL:      deps.VerifyTTL,
		resendCooldown: deps.ResendCooldown,
		bcryptCost:     cost,
		now:            now,
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	email := domain.NormalizeEmail(req.Email)
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, domain.ErrUserAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = nameFromEmail(email)
	}
	now := s.now().UTC()
	u := &domain.User{
		UserID:       id.NewAt(now),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Put(ctx, u); err != nil {
		return nil, err
	}
	if _, err := s.calendars.CreateCalendar(ctx, u.UserID, domain.CreateCalendarRequest{
		Type: domain.CalendarPrimary,
		Name: primaryCalendarName,
	}); err != nil {
		return nil, fmt.Errorf("create primary calendar: %w", err)
	}

	// A failed email does not undo the registration; the user can ask for a resend.
	if err := s.sendVerification(ctx, u); err != nil {
		slog.Warn("send verification email", "user_id", u.UserID, "err", err)
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(req.Email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	bearer, err := s.jwtProvider.Sign(u.UserID, u.Email)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{AccessToken: bearer, User: u}, nil
}

func (s *service) VerifyEmail(ctx context.Context, rawToken string) (*domain.User, error) {
	tok, err := s.approvals.Consume(ctx, rawToken, domain.TokenEmailVerify)
	if err != nil {
		return nil, err
	}
	if err := s.users.MarkEmailVerified(ctx, tok.UserID, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.users.Get(ctx, tok.UserID)
}

func (s *service) ResendVerification(ctx context.Context, req ResendRequest) (bool, error) {
	var (
		u   *domain.User
		err error
	)
	switch {
	case req.UserID != "":
		u, err = s.users.Get(ctx, req.UserID)
	case req.Email != "":
		u, err = s.users.GetByEmail(ctx, domain.NormalizeEmail(req.Email))
	default:
		return false, fmt.Errorf("user id or email is required: %w", domain.ErrBadRequest)
	}
	if err != nil {
		return false, err
	}
	if u.EmailVerified {
		return false, nil
	}

	last, err := s.approvals.LastIssued(ctx, u.UserID, domain.TokenEmailVerify)
	if err != nil {
		return false, err
	}
	if last != nil {
		elapsed := s.now().Sub(last.CreatedAt)
		if elapsed < s.resendCooldown {
			wait := int(math.Ceil((s.resendCooldown - elapsed).Seconds()))
			return false, &domain.CooldownError{WaitSeconds: wait}
		}
	}
	if err := s.sendVerification(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) sendVerification(ctx context.Context, u *domain.User) error {
	raw, err := s.approvals.Mint(ctx, u.UserID, domain.TokenEmailVerify, s.verifyTTL, domain.TokenMeta{})
	if err != nil {
		return err
	}
	if err := s.notifier.SendEmailVerification(ctx, u.Email, raw); err != nil {
		if dErr := s.approvals.Discard(ctx, raw); dErr != nil {
			slog.Warn("discard undelivered verification token", "user_id", u.UserID, "err", dErr)
		}
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

var nameSeparators = regexp.MustCompile(`[._+\-\s]+`)

// nameFromEmail turns "jane.doe@example.com" into "jane doe".
func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if name := strings.TrimSpace(nameSeparators.ReplaceAllString(local, " ")); name != "" {
		return name
	}
	return local
}
