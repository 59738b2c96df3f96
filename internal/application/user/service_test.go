package user

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-calendar-nosql/internal/domain"
	"github.com/go-calendar-nosql/internal/infrastructure/memory"
)

type mockObjectStore struct{ mock.Mock }

func (m *mockObjectStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, r, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

var ctx = context.Background()

func seed(t *testing.T, st *memory.Store) *domain.User {
	t.Helper()
	u := &domain.User{
		UserID:    "u1",
		Email:     "ana@example.com",
		Name:      "Ana",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, st.Users().Put(ctx, u))
	return u
}

func TestGetByEmail_NormalizesAndHidesPrivateFields(t *testing.T) {
	st := memory.New()
	seed(t, st)
	svc := NewService(ServiceDeps{UserRepo: st.Users(), ObjectStore: st.Objects()})

	got, err := svc.GetByEmail(ctx, "  ANA@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Ana", got.Name)

	_, err = svc.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetByID_NotFound(t *testing.T) {
	st := memory.New()
	svc := NewService(ServiceDeps{UserRepo: st.Users(), ObjectStore: st.Objects()})

	_, err := svc.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateMe(t *testing.T) {
	st := memory.New()
	seed(t, st)
	svc := NewService(ServiceDeps{UserRepo: st.Users(), ObjectStore: st.Objects()})

	name := "Ana Maria"
	got, err := svc.UpdateMe(ctx, "u1", domain.UserPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", got.Name)
	assert.Equal(t, "ana@example.com", got.Email)

	unchanged, err := svc.UpdateMe(ctx, "u1", domain.UserPatch{})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", unchanged.Name)
}

func TestUpdateAvatar_RoundTrip(t *testing.T) {
	st := memory.New()
	seed(t, st)
	svc := NewService(ServiceDeps{UserRepo: st.Users(), ObjectStore: st.Objects()})

	got, err := svc.UpdateAvatar(ctx, "u1", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	require.NotNil(t, got.Avatar)
	assert.True(t, strings.HasPrefix(*got.Avatar, "/v1/users/u1/avatar?v="))

	rc, err := svc.Avatar(ctx, "u1")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(body))
}

func TestUpdateAvatar_RejectsUnsupportedType(t *testing.T) {
	st := memory.New()
	seed(t, st)
	objects := &mockObjectStore{}
	svc := NewService(ServiceDeps{UserRepo: st.Users(), ObjectStore: objects})

	_, err := svc.UpdateAvatar(ctx, "u1", "application/pdf", bytes.NewReader(nil))
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	objects.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateAvatar_UploadFailureLeavesProfile(t *testing.T) {
	st := memory.New()
	seed(t, st)
	objects := &mockObjectStore{}
	objects.On("Upload", mock.Anything, "avatars/u1/avatar", mock.Anything, "image/jpeg").
		Return("", errors.New("s3 down"))
	svc := NewService(ServiceDeps{UserRepo: st.Users(), ObjectStore: objects})

	_, err := svc.UpdateAvatar(ctx, "u1", "image/jpeg", strings.NewReader("x"))
	require.Error(t, err)

	u, err := svc.GetMe(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, u.Avatar)
	objects.AssertExpectations(t)
}

func TestAvatar_NoneSet(t *testing.T) {
	st := memory.New()
	seed(t, st)
	svc := NewService(ServiceDeps{UserRepo: st.Users(), ObjectStore: st.Objects()})

	_, err := svc.Avatar(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
