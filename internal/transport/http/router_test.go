package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-calendar-nosql/internal/config"
	"github.com/go-calendar-nosql/internal/domain"
	jwtinfra "github.com/go-calendar-nosql/internal/infrastructure/jwt"
	"github.com/go-calendar-nosql/internal/infrastructure/memory"
)

// inbox records the last token mailed to each address.
type inbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (b *inbox) put(to, raw string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[to] = raw
	return nil
}

func (b *inbox) last(to string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens[to]
}

func (b *inbox) SendEmailVerification(_ context.Context, to, raw string) error {
	return b.put(to, raw)
}

func (b *inbox) SendCalendarInvite(_ context.Context, to, raw string, _ domain.CalendarInviteInfo) error {
	return b.put(to, raw)
}

func (b *inbox) SendEventInvite(_ context.Context, to, raw string, _ domain.EventInviteInfo) error {
	return b.put(to, raw)
}

type testServer struct {
	h    http.Handler
	mail *inbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	st := memory.New()
	mail := &inbox{tokens: map[string]string{}}
	cfg := &config.Config{
		AllowedOrigins:       []string{"*"},
		EmailVerifyTTL:       time.Hour,
		CalendarInviteTTL:    24 * time.Hour,
		EventInviteTTL:       24 * time.Hour,
		VerifyResendCooldown: time.Minute,
	}
	h := NewRouter(cfg, &Deps{
		UserRepo:           st.Users(),
		CalendarRepo:       st.Calendars(),
		CalendarMemberRepo: st.CalendarMembers(),
		EventRepo:          st.Events(),
		EventMemberRepo:    st.EventMembers(),
		TokenRepo:          st.Tokens(),
		ObjectStore:        st.Objects(),
		Notifier:           mail,
		JWTProvider:        jwtinfra.NewProviderFromKey(key, time.Hour),
	})
	return &testServer{h: h, mail: mail}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

// signup registers, verifies and logs in a user, returning its id and bearer token.
func (s *testServer) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": email, "password": "password1"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	userID := decodeBody(t, rr)["id"].(string)

	rr = s.do(t, http.MethodGet, "/v1/verify-email?token="+s.mail.last(email), "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": "password1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return userID, decodeBody(t, rr)["access_token"].(string)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/v1/health-check/ping", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", decodeBody(t, rr)["message"])

	rr = s.do(t, http.MethodGet, "/v1/health-check/ready", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", decodeBody(t, rr)["message"])
}

func TestVerifyEmail_TokenIsSingleUse(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": "Ana@Example.com", "password": "password1"})
	require.Equal(t, http.StatusCreated, rr.Code)
	raw := s.mail.last("ana@example.com")
	require.NotEmpty(t, raw)

	rr = s.do(t, http.MethodGet, "/v1/verify-email?token="+raw, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["email_verified"])

	rr = s.do(t, http.MethodGet, "/v1/verify-email?token="+raw, "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_DuplicateAndValidation(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{"email": "ana@example.com", "password": "password1"}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/auth/register", "", body).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/v1/auth/register", "", body).Code)

	rr := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": "bo@example.com", "password": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestResendVerification_Cooldown(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/auth/register", "",
		map[string]string{"email": "ana@example.com", "password": "password1"}).Code)

	rr := s.do(t, http.MethodPost, "/v1/verify-email/resend", "", map[string]string{"email": "ana@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	wait := decodeBody(t, rr)["wait_seconds"].(float64)
	assert.Greater(t, wait, float64(0))
	assert.LessOrEqual(t, wait, float64(60))
}

func TestLogin_WrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "ana@example.com")
	rr := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ana@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestProtectedRoutes_RequireBearer(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/calendars", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/users/me", "bad", nil).Code)
}

func TestCalendarSharing_OverHTTP(t *testing.T) {
	s := newTestServer(t)
	anaID, ana := s.signup(t, "ana@example.com")
	_, bo := s.signup(t, "bo@example.com")

	rr := s.do(t, http.MethodGet, "/v1/calendars", ana, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["data"], 1)

	rr = s.do(t, http.MethodPost, "/v1/calendars", ana, map[string]string{"type": "ordinary", "name": "Team"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	calID := decodeBody(t, rr)["id"].(string)

	rr = s.do(t, http.MethodPost, "/v1/calendars", ana, map[string]string{"type": "primary", "name": "Again"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/calendars/"+calID+"/members", ana, map[string]string{"email": "bo@example.com", "role": "editor"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	// bo cannot see the calendar before accepting.
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/v1/calendars/"+calID, bo, nil).Code)

	invite := s.mail.last("bo@example.com")
	rr = s.do(t, http.MethodPost, "/v1/calendar-invites/accept", bo, map[string]string{"token": invite})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/v1/calendars/"+calID, bo, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "editor", decodeBody(t, rr)["role"])

	// Replaying the same invitation fails.
	rr = s.do(t, http.MethodPost, "/v1/calendar-invites/accept", bo, map[string]string{"token": invite})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/v1/calendars/"+calID, bo, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/v1/calendars/"+calID+"/members/"+anaID, ana, nil).Code)

	rr = s.do(t, http.MethodGet, "/v1/calendars/"+calID+"/members", ana, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["data"], 2)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/v1/calendars/"+calID, ana, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/calendars/"+calID, ana, nil).Code)
}

func TestEventSharingAndExport_OverHTTP(t *testing.T) {
	s := newTestServer(t)
	_, ana := s.signup(t, "ana@example.com")
	cyID, cy := s.signup(t, "cy@example.com")

	rr := s.do(t, http.MethodPost, "/v1/calendars", ana, map[string]string{"type": "ordinary", "name": "Work"})
	require.Equal(t, http.StatusCreated, rr.Code)
	calID := decodeBody(t, rr)["id"].(string)

	rr = s.do(t, http.MethodPost, "/v1/calendars/"+calID+"/events", ana, map[string]interface{}{
		"type":     "arrangement",
		"title":    "Standup",
		"start_at": "2026-03-02T09:00:00Z",
		"end_at":   "2026-03-02T09:15:00Z",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	eventID := decodeBody(t, rr)["id"].(string)

	rr = s.do(t, http.MethodPost, "/v1/calendars/"+calID+"/events", ana, map[string]interface{}{
		"type":  "arrangement",
		"title": "Broken",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/v1/calendars/"+calID+"/events?from=2026-03-01T00:00:00Z&types=arrangement", ana, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["items"], 1)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/calendars/"+calID+"/events?from=yesterday", ana, nil).Code)

	eventPath := "/v1/calendars/" + calID + "/events/" + eventID
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, eventPath, cy, nil).Code)

	rr = s.do(t, http.MethodPost, eventPath+"/members", ana, map[string]string{"email": "cy@example.com"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = s.do(t, http.MethodPost, "/v1/event-invites/accept", cy, map[string]string{"token": s.mail.last("cy@example.com")})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, eventPath, cy, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Standup", decodeBody(t, rr)["title"])

	rr = s.do(t, http.MethodGet, "/v1/events/shared", cy, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	shared := decodeBody(t, rr)
	assert.Len(t, shared["items"], 1)
	assert.EqualValues(t, 1, shared["total"])
	rr = s.do(t, http.MethodGet, "/v1/events/shared?types=task", cy, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody(t, rr)["items"])
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/events/shared?limit=many", cy, nil).Code)

	// Event members cannot edit or read the rest of the calendar.
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPatch, eventPath, cy, map[string]string{"title": "x"}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/v1/calendars/"+calID+"/export.ics", cy, nil).Code)

	rr = s.do(t, http.MethodGet, "/v1/calendars/"+calID+"/export.ics", ana, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, rr.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, rr.Body.String(), "SUMMARY:Standup")

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, eventPath+"/members/"+cyID, ana, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, eventPath, cy, nil).Code)
}

func TestUsers_ProfileAndLookup(t *testing.T) {
	s := newTestServer(t)
	anaID, ana := s.signup(t, "ana@example.com")
	_, bo := s.signup(t, "bo@example.com")

	rr := s.do(t, http.MethodPut, "/v1/users/me", ana, map[string]string{"name": "Ana Maria"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Ana Maria", decodeBody(t, rr)["name"])

	rr = s.do(t, http.MethodGet, "/v1/users/mail/ANA@example.com", bo, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, anaID, body["id"])
	assert.NotContains(t, body, "email_verified")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/users/nobody", bo, nil).Code)
}
