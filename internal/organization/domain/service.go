package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Service interface {
	Bootstrap(ctx context.Context, req BootstrapRequest) (*BootstrapResult, error)
	Get(ctx context.Context, orgID uuid.UUID) (*Organization, error)
	Update(ctx context.Context, orgID uuid.UUID, actorID uuid.UUID, req UpdateRequest) (*Organization, error)
	Deactivate(ctx context.Context, orgID uuid.UUID, actorID uuid.UUID, confirm string) (*Organization, error)
}

type BootstrapRequest struct {
	Name          string
	Slug          string
	Domain        string
	Plan          string
	MaxUsers      int
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// BootstrapResult names the new organization and its first admin.
type BootstrapResult struct {
	Organization *Organization
	AdminUserID  uuid.UUID
	AdminEmail   string
}

// UpdateRequest carries the fields to change; nil fields are left alone.
type UpdateRequest struct {
	Name         *string
	Domain       *string
	Settings     map[string]any
	Plan         *string
	PlanMetadata map[string]any
	MaxUsers     *int
}

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationInactive = errors.New("organization inactive")
	ErrInvalidOrganization  = errors.New("invalid organization")
	ErrInvalidName          = errors.New("invalid organization name")
	ErrInvalidSlug          = errors.New("invalid organization slug")
	ErrReservedSlug         = errors.New("organization slug is reserved")
	ErrInvalidDomain        = errors.New("invalid organization domain")
	ErrInvalidMaxUsers      = errors.New("max users must not be negative")
	ErrDuplicateSlug        = errors.New("organization slug already taken")
	ErrDuplicateDomain      = errors.New("organization domain already taken")
	ErrConfirmationMismatch = errors.New("confirmation does not match organization slug")
)
