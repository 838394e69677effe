package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"gorm.io/gorm"
)

func (r *repo) CreateSession(ctx context.Context, scope *rls.Scope, session *domain.Session) error {
	if err := scope.Check(); err != nil {
		return err
	}
	session.OrgID = scope.OrgID()
	return scope.DB().WithContext(ctx).Exec(
		`INSERT INTO sessions (
			id, user_id, org_id, token_hash, expires_at, ip_address, user_agent,
			created_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.OrgID,
		session.TokenHash,
		session.ExpiresAt,
		session.IPAddress,
		session.UserAgent,
		session.CreatedAt,
		session.LastSeenAt,
	).Error
}

// Lookup resolves a token hash to a live identity. The join requires the
// user to be active in the same organization and the organization itself to
// be active; expired rows never match.
func (r *repo) Lookup(ctx context.Context, scope *rls.Scope, tokenHash string, now time.Time) (*domain.SessionIdentity, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	var row domain.SessionIdentity
	res := scope.DB().WithContext(ctx).Raw(
		`SELECT s.id AS session_id, s.user_id AS user_id, s.org_id AS org_id,
		        o.slug AS org_slug, u.email AS email, u.name AS name, u.role AS role,
		        u.permissions AS permissions, s.last_seen_at AS last_seen_at,
		        s.expires_at AS expires_at
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id AND u.org_id = s.org_id
		 JOIN organizations o ON o.id = s.org_id
		 WHERE s.token_hash = ?
		   AND s.org_id = ?
		   AND s.expires_at > ?
		   AND u.is_active = ?
		   AND u.deleted_at IS NULL
		   AND o.is_active = ?
		 LIMIT 1`,
		tokenHash, scope.OrgID(), now, true, true,
	).Scan(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || row.SessionID == uuid.Nil {
		return nil, domain.ErrSessionNotFound
	}
	return &row, nil
}

func (r *repo) DeleteByHash(ctx context.Context, scope *rls.Scope, tokenHash string) (int64, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	res := scope.DB().WithContext(ctx).Exec(
		`DELETE FROM sessions WHERE token_hash = ? AND org_id = ?`,
		tokenHash, scope.OrgID(),
	)
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteByUser(ctx context.Context, scope *rls.Scope, userID uuid.UUID) (int64, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	res := scope.DB().WithContext(ctx).Exec(
		`DELETE FROM sessions WHERE user_id = ? AND org_id = ?`,
		userID, scope.OrgID(),
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Touch(ctx context.Context, scope *rls.Scope, sessionID uuid.UUID, now time.Time) error {
	if err := scope.Check(); err != nil {
		return err
	}
	return scope.DB().WithContext(ctx).Exec(
		`UPDATE sessions SET last_seen_at = ?
		 WHERE id = ? AND org_id = ? AND last_seen_at < ?`,
		now, sessionID, scope.OrgID(), now.Add(-touchInterval),
	).Error
}

func (r *repo) ListByUser(ctx context.Context, scope *rls.Scope, userID uuid.UUID, now time.Time) ([]domain.Session, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	var sessions []domain.Session
	err := scope.DB().WithContext(ctx).
		Where("user_id = ? AND org_id = ? AND expires_at > ?", userID, scope.OrgID(), now).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) DeleteExpired(ctx context.Context, scope *rls.Scope, before time.Time) (int64, error) {
	if err := scope.Check(); err != nil {
		return 0, err
	}
	res := scope.DB().WithContext(ctx).Exec(
		`DELETE FROM sessions WHERE org_id = ? AND expires_at <= ?`,
		scope.OrgID(), before,
	)
	return res.RowsAffected, res.Error
}

// ListOrganizationIDs reads the unscoped organizations table so the sweeper
// can visit each tenant in turn.
func (r *repo) ListOrganizationIDs(ctx context.Context, db *gorm.DB) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := db.WithContext(ctx).Table("organizations").Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
