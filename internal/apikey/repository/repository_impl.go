package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, scope *rls.Scope, key *apikeydomain.APIKey) error {
	if err := scope.Check(); err != nil {
		return err
	}
	return scope.DB().WithContext(ctx).Exec(
		`INSERT INTO api_keys (
			id, org_id, name, key_hash, key_prefix, permissions, allowed_ips,
			rate_limit_per_hour, is_active, expires_at, usage_count, last_used_at,
			last_used_ip, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		scope.OrgID(),
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		key.Permissions,
		key.AllowedIPs,
		key.RateLimitPerHour,
		key.IsActive,
		key.ExpiresAt,
		key.UsageCount,
		key.LastUsedAt,
		key.LastUsedIP,
		key.CreatedBy,
		key.CreatedAt,
		key.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, scope *rls.Scope, id uuid.UUID) (*apikeydomain.APIKey, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	var key apikeydomain.APIKey
	err := scope.DB().WithContext(ctx).
		Where("org_id = ? AND id = ?", scope.OrgID(), id).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apikeydomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repo) List(ctx context.Context, scope *rls.Scope) ([]apikeydomain.APIKey, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	var keys []apikeydomain.APIKey
	err := scope.DB().WithContext(ctx).
		Where("org_id = ?", scope.OrgID()).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListUsable returns the active, unexpired keys of the scoped organization.
func (r *repo) ListUsable(ctx context.Context, scope *rls.Scope, now time.Time) ([]apikeydomain.APIKey, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	var keys []apikeydomain.APIKey
	err := scope.DB().WithContext(ctx).
		Where("org_id = ? AND is_active = ?", scope.OrgID(), true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) Update(ctx context.Context, scope *rls.Scope, id uuid.UUID, fields map[string]any) error {
	if err := scope.Check(); err != nil {
		return err
	}
	tx := scope.DB().WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("org_id = ? AND id = ?", scope.OrgID(), id).
		Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return apikeydomain.ErrNotFound
	}
	return nil
}

// Delete removes the key and its usage history.
func (r *repo) Delete(ctx context.Context, scope *rls.Scope, id uuid.UUID) error {
	if err := scope.Check(); err != nil {
		return err
	}
	db := scope.DB().WithContext(ctx)
	if err := db.Exec(
		`DELETE FROM api_key_usage_logs WHERE org_id = ? AND api_key_id = ?`,
		scope.OrgID(), id,
	).Error; err != nil {
		return err
	}
	tx := db.Exec(`DELETE FROM api_keys WHERE org_id = ? AND id = ?`, scope.OrgID(), id)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return apikeydomain.ErrNotFound
	}
	return nil
}

func (r *repo) InsertUsage(ctx context.Context, scope *rls.Scope, usage *apikeydomain.Usage) error {
	if err := scope.Check(); err != nil {
		return err
	}
	return scope.DB().WithContext(ctx).Exec(
		`INSERT INTO api_key_usage_logs (id, api_key_id, org_id, method, path, status_code, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(usage.ID),
		usage.APIKeyID,
		scope.OrgID(),
		usage.Method,
		usage.Path,
		usage.StatusCode,
		usage.IPAddress,
		usage.CreatedAt,
	).Error
}

func (r *repo) MarkUsed(ctx context.Context, scope *rls.Scope, id uuid.UUID, at time.Time, ip string) error {
	if err := scope.Check(); err != nil {
		return err
	}
	return scope.DB().WithContext(ctx).Exec(
		`UPDATE api_keys
		 SET usage_count = usage_count + 1, last_used_at = ?, last_used_ip = ?
		 WHERE org_id = ? AND id = ?`,
		at, ip, scope.OrgID(), id,
	).Error
}

// UsageWindow counts usage rows in (from, to] and returns the oldest of them.
func (r *repo) UsageWindow(ctx context.Context, scope *rls.Scope, id uuid.UUID, from, to time.Time) (int64, *time.Time, error) {
	if err := scope.Check(); err != nil {
		return 0, nil, err
	}
	base := func() *gorm.DB {
		return scope.DB().WithContext(ctx).
			Model(&apikeydomain.Usage{}).
			Where("org_id = ? AND api_key_id = ?", scope.OrgID(), id).
			Where("created_at > ? AND created_at <= ?", from, to)
	}

	var count int64
	if err := base().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var oldest []apikeydomain.Usage
	if err := base().Order("created_at ASC").Limit(1).Find(&oldest).Error; err != nil {
		return 0, nil, err
	}
	if len(oldest) == 0 {
		return count, nil, nil
	}
	return count, &oldest[0].CreatedAt, nil
}
