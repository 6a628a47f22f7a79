package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential and account state errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountInactive    = errors.New("account is inactive")

	// Token errors
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenMalformed     = errors.New("token is malformed")
	ErrTokenWrongAudience = errors.New("token audience mismatch")

	// Session errors. ErrSessionExpired is reported to clients as ErrSessionNotFound.
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// AccountLockedError carries the time remaining until a locked account accepts logins again.
type AccountLockedError struct {
	LockedUntil time.Time
	RetryAfter  time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry after %s", e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrAccountLocked) match.
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// NewAccountLockedError builds an AccountLockedError relative to now.
func NewAccountLockedError(lockedUntil, now time.Time) *AccountLockedError {
	retry := lockedUntil.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return &AccountLockedError{LockedUntil: lockedUntil, RetryAfter: retry}
}
