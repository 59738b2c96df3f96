package user

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-calendar-nosql/internal/domain"
)

// MaxAvatarSize caps avatar uploads.
const MaxAvatarSize = 5 << 20

var avatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

type Service interface {
	GetMe(ctx context.Context, userID string) (*domain.User, error)
	GetByID(ctx context.Context, userID string) (*domain.PublicUser, error)
	GetByEmail(ctx context.Context, email string) (*domain.PublicUser, error)
	UpdateMe(ctx context.Context, userID string, patch domain.UserPatch) (*domain.User, error)
	UpdateAvatar(ctx context.Context, userID, contentType string, r io.Reader) (*domain.User, error)
	Avatar(ctx context.Context, userID string) (io.ReadCloser, error)
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, userID string, patch domain.UserPatch) error
}

type objectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

type service struct {
	repo    userStore
	objects objectStore
}

type ServiceDeps struct {
	UserRepo    userStore
	ObjectStore objectStore
}

func NewService(deps ServiceDeps) Service {
	return &service{repo: deps.UserRepo, objects: deps.ObjectStore}
}

func (s *service) GetMe(ctx context.Context, userID string) (*domain.User, error) {
	return s.repo.Get(ctx, userID)
}

func (s *service) GetByID(ctx context.Context, userID string) (*domain.PublicUser, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

func (s *service) GetByEmail(ctx context.Context, email string) (*domain.PublicUser, error) {
	u, err := s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

func (s *service) UpdateMe(ctx context.Context, userID string, patch domain.UserPatch) (*domain.User, error) {
	if patch.Empty() {
		return s.repo.Get(ctx, userID)
	}
	if err := s.repo.Update(ctx, userID, patch); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID)
}

func (s *service) UpdateAvatar(ctx context.Context, userID, contentType string, r io.Reader) (*domain.User, error) {
	if !avatarTypes[contentType] {
		return nil, fmt.Errorf("unsupported avatar type %q: %w", contentType, domain.ErrBadRequest)
	}
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.objects.Upload(ctx, avatarKey(userID), io.LimitReader(r, MaxAvatarSize), contentType); err != nil {
		return nil, err
	}
	// The version query makes clients refetch after a change.
	url := fmt.Sprintf("/v1/users/%s/avatar?v=%d", userID, time.Now().Unix())
	if err := s.repo.Update(ctx, userID, domain.UserPatch{Avatar: &url}); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID)
}

func (s *service) Avatar(ctx context.Context, userID string) (io.ReadCloser, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Avatar == nil {
		return nil, fmt.Errorf("avatar not found: %w", domain.ErrNotFound)
	}
	return s.objects.Download(ctx, avatarKey(userID))
}

func avatarKey(userID string) string {
	return fmt.Sprintf("avatars/%s/avatar", userID)
}
