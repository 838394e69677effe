package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/authorization"
)

type Service interface {
	Create(ctx context.Context, orgID uuid.UUID, actorID string, req CreateRequest) (*CreateResult, error)
	Verify(ctx context.Context, rawKey, clientIP string) (*Principal, error)
	CheckRateLimit(ctx context.Context, key *Principal) (RateLimitStatus, error)
	RecordUsage(ctx context.Context, key *Principal, event UsageEvent) error
	List(ctx context.Context, orgID uuid.UUID) ([]APIKey, error)
	Get(ctx context.Context, orgID, keyID uuid.UUID) (*APIKey, error)
	Deactivate(ctx context.Context, orgID, keyID uuid.UUID, actorID string) error
	Delete(ctx context.Context, orgID, keyID uuid.UUID, actorID string) error
	Rotate(ctx context.Context, orgID, keyID uuid.UUID, actorID string) (*CreateResult, error)
}

type CreateRequest struct {
	Name             string     `json:"name"`
	Permissions      []string   `json:"permissions"`
	AllowedIPs       []string   `json:"allowed_ips"`
	RateLimitPerHour int        `json:"rate_limit_per_hour"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

// CreateResult carries the raw key. It is shown once and cannot be
// recovered later.
type CreateResult struct {
	Key    string  `json:"api_key"`
	APIKey *APIKey `json:"key"`
}

// Principal is the identity of a request authenticated with an API key.
type Principal struct {
	KeyID            uuid.UUID
	OrgID            uuid.UUID
	OrgSlug          string
	Name             string
	Permissions      authorization.PermissionSet
	RateLimitPerHour int
}

func (p *Principal) HasPermission(perm authorization.Permission) bool {
	return p != nil && p.Permissions.Has(perm)
}

type RateLimitStatus struct {
	Limit     int       `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	Exceeded  bool      `json:"exceeded"`
	ResetAt   time.Time `json:"reset_at"`
}

type UsageEvent struct {
	Method     string
	Path       string
	StatusCode int
	IPAddress  string
}

var (
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidName         = errors.New("invalid api key name")
	ErrInvalidAllowedIP    = errors.New("invalid allowed ip")
	ErrInvalidRateLimit    = errors.New("rate limit must not be negative")
	ErrInvalidExpiry       = errors.New("expiry must be in the future")
	ErrNotFound            = errors.New("api key not found")
	ErrMalformedKey        = errors.New("malformed api key")
	ErrInvalidKey          = errors.New("invalid api key")
	ErrIPNotAllowed        = errors.New("ip address not allowed for api key")
)
