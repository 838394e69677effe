// Package token issues and verifies the signed bearer tokens handed out at
// login. A verified token only names a session; callers must still confirm
// the session is live.
package token

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrInvalidToken is the only error Verify returns.
	ErrInvalidToken = errors.New("invalid token")
	ErrSigning      = errors.New("token signing failed")
)

// Claims holds the identity carried by a session token.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	OrgID  uuid.UUID `json:"org_id"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// Subject is the identity a token is issued for.
type Subject struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Email  string
	Role   string
}

type Issued struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

type Option func(*Issuer)

func WithClock(c clock.Clock) Option {
	return func(i *Issuer) {
		if c != nil {
			i.clock = c
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func WithIssuer(name string) Option {
	return func(i *Issuer) {
		i.issuer = strings.TrimSpace(name)
	}
}

func NewIssuer(secret []byte, opts ...Option) *Issuer {
	i := &Issuer{
		secret: append([]byte(nil), secret...),
		issuer: "crmauth",
		ttl:    24 * time.Hour,
		clock:  clock.SystemClock{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// New builds the issuer from configuration. Development environments without
// a configured secret get an ephemeral one, so tokens die with the process.
func New(cfg config.Config, clk clock.Clock, log *zap.Logger) (*Issuer, error) {
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 && cfg.IsDevelopment() {
		secret = make([]byte, config.MinJWTSecretLength)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Named("auth.token").Warn("AUTH_JWT_SECRET not set; using an ephemeral signing secret")
	}
	if len(secret) == 0 {
		return nil, config.ErrMissingJWTSecret
	}
	return NewIssuer(secret,
		WithClock(clk),
		WithTTL(cfg.Auth.TokenTTL),
		WithIssuer(cfg.Auth.JWTIssuer),
	), nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for subject that expires after the configured TTL.
func (i *Issuer) Issue(subject Subject) (Issued, error) {
	if subject.UserID == uuid.Nil || subject.OrgID == uuid.Nil {
		return Issued{}, ErrSigning
	}

	now := i.clock.Now().UTC().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)
	id := uuid.NewString()

	claims := Claims{
		UserID: subject.UserID,
		OrgID:  subject.OrgID,
		Email:  subject.Email,
		Role:   subject.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        id,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Issued{}, errors.Join(ErrSigning, err)
	}

	return Issued{
		Token:     signed,
		ID:        id,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature, algorithm, issuer and validity window and returns
// the claims. Every failure collapses into ErrInvalidToken.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.clock.Now),
	)

	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil || claims.OrgID == uuid.Nil || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Subject != claims.UserID.String() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
