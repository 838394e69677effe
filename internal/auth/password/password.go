// Package password hashes and verifies user passwords.
package password

import (
	"errors"
	"strings"

	"github.com/smallbiznis/crmauth/internal/config"
)

var (
	ErrUnsupportedHash = errors.New("password: unsupported hash encoding")
	ErrEmptyPassword   = errors.New("password: empty password")
	ErrPasswordTooLong = errors.New("password: longer than 72 bytes")
)

// Hasher produces and checks encoded password hashes. Verify compares in
// constant time and returns (false, nil) for a wrong password.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(encoded, plain string) (bool, error)
}

// Scheme is a Hasher that recognises its own encodings.
type Scheme interface {
	Hasher
	Handles(encoded string) bool
	NeedsRehash(encoded string) bool
}

// Multi hashes with its primary scheme and verifies any registered scheme.
type Multi struct {
	primary Scheme
	schemes []Scheme
}

func NewMulti(primary Scheme, others ...Scheme) *Multi {
	return &Multi{
		primary: primary,
		schemes: append([]Scheme{primary}, others...),
	}
}

// New builds the hasher configured by AUTH_PASSWORD_ALGORITHM. Hashes written
// by the other algorithm keep verifying.
func New(cfg config.Config) *Multi {
	bcryptScheme := NewBcrypt(cfg.Auth.BcryptCost)
	argonScheme := NewArgon2id(DefaultArgon2Params)
	if cfg.Auth.PasswordAlgorithm == config.PasswordAlgorithmArgon2id {
		return NewMulti(argonScheme, bcryptScheme)
	}
	return NewMulti(bcryptScheme, argonScheme)
}

func (m *Multi) Hash(plain string) (string, error) {
	return m.primary.Hash(plain)
}

func (m *Multi) Verify(encoded, plain string) (bool, error) {
	for _, scheme := range m.schemes {
		if scheme.Handles(encoded) {
			return scheme.Verify(encoded, plain)
		}
	}
	return false, ErrUnsupportedHash
}

// NeedsRehash reports whether encoded should be replaced with a fresh hash
// from the primary scheme.
func (m *Multi) NeedsRehash(encoded string) bool {
	if !m.primary.Handles(encoded) {
		return true
	}
	return m.primary.NeedsRehash(encoded)
}

func validatePlain(plain string) error {
	if strings.TrimSpace(plain) == "" {
		return ErrEmptyPassword
	}
	return nil
}
