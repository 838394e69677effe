package domain

import "errors"

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrOrganizationRequired = errors.New("organization required")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrWeakPassword         = errors.New("password must be at least 8 characters")
	ErrInvalidName          = errors.New("invalid name")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserLimitReached     = errors.New("organization user limit reached")
	ErrLastAdmin            = errors.New("cannot remove the last active admin")
	ErrCannotDeleteSelf     = errors.New("admins cannot delete themselves")
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidResetToken    = errors.New("invalid or expired reset token")
	ErrTooManyAttempts      = errors.New("too many login attempts")
)
