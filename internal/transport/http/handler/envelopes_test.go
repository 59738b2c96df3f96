package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-calendar-nosql/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("consume: %w", domain.ErrTokenInvalidOrExpired), http.StatusBadRequest},
		{domain.ErrTokenTypeMismatch, http.StatusBadRequest},
		{domain.ErrLastOwner, http.StatusForbidden},
		{fmt.Errorf("calendar: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrUserAlreadyExists, http.StatusConflict},
		{domain.ErrPrimaryCalendarExists, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{&domain.CooldownError{WaitSeconds: 3}, http.StatusTooManyRequests},
		{domain.ErrBadRequest, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("dynamo down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/calendars", nil)
	writeServiceError(rr, req, errors.New("secret table name"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret")
}

func TestWriteServiceError_CooldownCarriesWait(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/verify-email/resend", nil)
	writeServiceError(rr, req, fmt.Errorf("resend: %w", &domain.CooldownError{WaitSeconds: 42}))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	var env MessageEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, 42, env.WaitSeconds)
}

func TestParseEventFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/?from=2026-03-01T00:00:00Z&to=2026-03-31T00:00:00Z&types=task,reminder&types=arrangement&page=2&limit=5", nil)
	f, err := parseEventFilter(req)
	require.NoError(t, err)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, []domain.EventType{domain.EventTask, domain.EventReminder, domain.EventArrangement}, f.Types)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, 5, f.Limit)
}

func TestParseEventFilter_Rejects(t *testing.T) {
	for _, q := range []string{
		"from=nope",
		"from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z",
		"types=meeting",
		"limit=ten",
	} {
		_, err := parseEventFilter(httptest.NewRequest(http.MethodGet, "/?"+q, nil))
		assert.Error(t, err, q)
	}
}
