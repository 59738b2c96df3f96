package jwtinfra

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, expiry time.Duration) *Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewProviderFromKey(key, expiry)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	p := newTestProvider(t, time.Hour)

	tok, err := p.Sign("u1", "ana@example.com")
	require.NoError(t, err)

	claims, err := p.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, "u1", claims.Subject)
}

func TestVerify_Expired(t *testing.T) {
	p := newTestProvider(t, time.Minute)
	tok, err := p.Sign("u1", "ana@example.com")
	require.NoError(t, err)

	p.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = p.Verify(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_ForeignKeyRejected(t *testing.T) {
	signer := newTestProvider(t, time.Hour)
	verifier := newTestProvider(t, time.Hour)

	tok, err := signer.Sign("u1", "ana@example.com")
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	assert.Error(t, err)
}

func TestVerify_RejectsHMAC(t *testing.T) {
	p := newTestProvider(t, time.Hour)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = p.Verify(tok)
	assert.Error(t, err)
}
