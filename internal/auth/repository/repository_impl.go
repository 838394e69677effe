package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"gorm.io/gorm"
)

// touchInterval throttles last_seen_at writes.
const touchInterval = time.Minute

type repo struct{}

func New() (domain.UserRepository, domain.SessionRepository) {
	r := &repo{}
	return r, r
}

func (r *repo) Create(ctx context.Context, scope *rls.Scope, user *domain.User) error {
	if err := scope.Check(); err != nil {
		return err
	}
	user.OrgID = scope.OrgID()
	return scope.DB().WithContext(ctx).Create(user).Error
}

func (r *repo) FindByID(ctx context.Context, scope *rls.Scope, id uuid.UUID) (*domain.User, error) {
	return r.findUser(ctx, scope, "id = ?", id)
}

// FindByEmail includes soft-deleted rows so callers can reactivate them.
func (r *repo) FindByEmail(ctx context.Context, scope *rls.Scope, email string) (*domain.User, error) {
	return r.findUser(ctx, scope, "email = ?", email)
}

func (r *repo) findUser(ctx context.Context, scope *rls.Scope, query string, arg any) (*domain.User, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	var user domain.User
	err := scope.DB().WithContext(ctx).
		Where("org_id = ?", scope.OrgID()).
		Where(query, arg).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) List(ctx context.Context, scope *rls.Scope) ([]domain.User, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	var users []domain.User
	err := scope.DB().WithContext(ctx).
		Where("org_id = ? AND deleted_at IS NULL", scope.OrgID()).
		Order("created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) Update(ctx context.Context, scope *rls.Scope, id uuid.UUID, fields map[string]any) error {
	if err := scope.Check(); err != nil {
		return err
	}
	tx := scope.DB().WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND org_id = ?", id, scope.OrgID()).
		Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// IncrementFailedLogins bumps the counter in the database and returns the
// value it landed on.
func (r *repo) IncrementFailedLogins(ctx context.Context, scope *rls.Scope, id uuid.UUID, now time.Time) (int, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	db := scope.DB().WithContext(ctx)
	tx := db.Model(&domain.User{}).
		Where("id = ? AND org_id = ?", id, scope.OrgID()).
		Updates(map[string]any{
			"failed_login_count": gorm.Expr("failed_login_count + 1"),
			"updated_at":         now,
		})
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected == 0 {
		return 0, domain.ErrUserNotFound
	}
	var counts []int
	err := db.Model(&domain.User{}).
		Where("id = ? AND org_id = ?", id, scope.OrgID()).
		Pluck("failed_login_count", &counts).Error
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, domain.ErrUserNotFound
	}
	return counts[0], nil
}

// ConsumeResetToken applies fields only while the token is still stored on
// a live user, so a token can be redeemed once.
func (r *repo) ConsumeResetToken(ctx context.Context, scope *rls.Scope, id uuid.UUID, tokenHash string, now time.Time, fields map[string]any) error {
	if err := scope.Check(); err != nil {
		return err
	}
	tx := scope.DB().WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND org_id = ?", id, scope.OrgID()).
		Where("reset_token_hash = ? AND reset_token_expires_at > ?", tokenHash, now).
		Where("is_active = ? AND deleted_at IS NULL", true).
		Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrInvalidResetToken
	}
	return nil
}

func (r *repo) CountActive(ctx context.Context, scope *rls.Scope) (int64, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	var count int64
	err := scope.DB().WithContext(ctx).
		Model(&domain.User{}).
		Where("org_id = ? AND is_active = ? AND deleted_at IS NULL", scope.OrgID(), true).
		Count(&count).Error
	return count, err
}

func (r *repo) CountActiveAdmins(ctx context.Context, scope *rls.Scope) (int64, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	var count int64
	err := scope.DB().WithContext(ctx).
		Model(&domain.User{}).
		Where("org_id = ? AND role = ? AND is_active = ? AND deleted_at IS NULL",
			scope.OrgID(), string(authorization.RoleAdmin), true).
		Count(&count).Error
	return count, err
}

func (r *repo) FindLoginCandidates(ctx context.Context, tx *gorm.DB, email string) ([]domain.LoginCandidate, error) {
	var rows []domain.LoginCandidate
	err := tx.WithContext(ctx).Raw(
		`SELECT u.id AS user_id, u.org_id AS org_id, o.slug AS org_slug
		 FROM users u
		 JOIN organizations o ON o.id = u.org_id
		 WHERE u.email = ?
		   AND u.is_active = ?
		   AND u.deleted_at IS NULL
		   AND o.is_active = ?
		 ORDER BY o.slug ASC`,
		email, true, true,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) FindByResetToken(ctx context.Context, tx *gorm.DB, tokenHash string, now time.Time) (*domain.ResetCandidate, error) {
	var row domain.ResetCandidate
	res := tx.WithContext(ctx).Raw(
		`SELECT id AS user_id, org_id
		 FROM users
		 WHERE reset_token_hash = ?
		   AND reset_token_expires_at > ?
		   AND is_active = ?
		   AND deleted_at IS NULL
		 LIMIT 1`,
		tokenHash, now, true,
	).Scan(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || row.UserID == uuid.Nil {
		return nil, domain.ErrInvalidResetToken
	}
	return &row, nil
}
