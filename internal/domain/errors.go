package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	ErrTokenInvalidOrExpired = errors.New("token is invalid or has expired")
	ErrTokenTypeMismatch     = errors.New("token type does not match the expected type")
	ErrUserAlreadyExists     = errors.New("user with this email already exists")
	ErrPrimaryCalendarExists = errors.New("primary calendar already exists")
	ErrTooManyRequests       = errors.New("too many requests")
)

// ErrLastOwner is returned when a mutation would leave a calendar without an accepted owner.
var ErrLastOwner = fmt.Errorf("calendar must keep at least one accepted owner: %w", ErrForbidden)

// CooldownError reports how long a caller must wait before repeating a rate-limited request.
type CooldownError struct {
	WaitSeconds int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting again", e.WaitSeconds)
}

func (e *CooldownError) Unwrap() error { return ErrTooManyRequests }
