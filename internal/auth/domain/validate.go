package domain

import (
	"net/mail"
	"strings"
)

const MinPasswordLength = 8

// NormalizeEmail trims, parses and lower-cases an address. Display names are
// rejected.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Name != "" || addr.Address != trimmed {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

func ValidatePassword(plain string) error {
	if len(strings.TrimSpace(plain)) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// DefaultName derives a display name from the mailbox part of email.
func DefaultName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local = strings.TrimSpace(local); local != "" {
		return local
	}
	return email
}
