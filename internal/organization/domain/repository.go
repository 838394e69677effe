package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"gorm.io/gorm"
)

// Repository reads and writes the organizations table, which is not tenant
// scoped. DeactivateTenantData runs inside the organization's own scope.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, org *Organization) error
	FindByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
	FindByDomain(ctx context.Context, domain string) (*Organization, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
	DeactivateTenantData(ctx context.Context, scope *rls.Scope, now time.Time) (TenantCascade, error)
}

// TenantCascade counts rows touched by a deactivation.
type TenantCascade struct {
	Users    int64
	Sessions int64
	APIKeys  int64
}
