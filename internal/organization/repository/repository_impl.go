package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, org *domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (
			id, name, slug, domain, settings, plan, plan_metadata, max_users,
			is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.Slug,
		org.Domain,
		org.Settings,
		org.Plan,
		org.PlanMetadata,
		org.MaxUsers,
		org.IsActive,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	return r.findOne(ctx, "slug = ?", strings.ToLower(strings.TrimSpace(slug)))
}

func (r *repository) FindByDomain(ctx context.Context, domainName string) (*domain.Organization, error) {
	return r.findOne(ctx, "domain = ?", strings.ToLower(strings.TrimSpace(domainName)))
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Where(query, arg).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	tx := r.db.WithContext(ctx).Model(&domain.Organization{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

func (r *repository) DeactivateTenantData(ctx context.Context, scope *rls.Scope, now time.Time) (domain.TenantCascade, error) {
	var out domain.TenantCascade
	if err := scope.Check(); err != nil {
		return out, err
	}
	db := scope.DB().WithContext(ctx)

	users := db.Exec(
		`UPDATE users SET is_active = ?, updated_at = ? WHERE org_id = ? AND is_active = ?`,
		false, now, scope.OrgID(), true,
	)
	if users.Error != nil {
		return out, users.Error
	}
	out.Users = users.RowsAffected

	sessions := db.Exec(`DELETE FROM sessions WHERE org_id = ?`, scope.OrgID())
	if sessions.Error != nil {
		return out, sessions.Error
	}
	out.Sessions = sessions.RowsAffected

	keys := db.Exec(
		`UPDATE api_keys SET is_active = ?, updated_at = ? WHERE org_id = ? AND is_active = ?`,
		false, now, scope.OrgID(), true,
	)
	if keys.Error != nil {
		return out, keys.Error
	}
	out.APIKeys = keys.RowsAffected

	return out, nil
}
