package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"gorm.io/gorm"
)

// UserRepository works on a tenant scope, except the two lookups that take
// the transaction opened by rls.CrossTenant.
type UserRepository interface {
	Create(ctx context.Context, scope *rls.Scope, user *User) error
	FindByID(ctx context.Context, scope *rls.Scope, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, scope *rls.Scope, email string) (*User, error)
	List(ctx context.Context, scope *rls.Scope) ([]User, error)
	Update(ctx context.Context, scope *rls.Scope, id uuid.UUID, fields map[string]any) error
	IncrementFailedLogins(ctx context.Context, scope *rls.Scope, id uuid.UUID, now time.Time) (int, error)
	ConsumeResetToken(ctx context.Context, scope *rls.Scope, id uuid.UUID, tokenHash string, now time.Time, fields map[string]any) error
	CountActive(ctx context.Context, scope *rls.Scope) (int64, error)
	CountActiveAdmins(ctx context.Context, scope *rls.Scope) (int64, error)

	FindLoginCandidates(ctx context.Context, tx *gorm.DB, email string) ([]LoginCandidate, error)
	FindByResetToken(ctx context.Context, tx *gorm.DB, tokenHash string, now time.Time) (*ResetCandidate, error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, scope *rls.Scope, session *Session) error
	Lookup(ctx context.Context, scope *rls.Scope, tokenHash string, now time.Time) (*SessionIdentity, error)
	DeleteByHash(ctx context.Context, scope *rls.Scope, tokenHash string) (int64, error)
	DeleteByUser(ctx context.Context, scope *rls.Scope, userID uuid.UUID) (int64, error)
	Touch(ctx context.Context, scope *rls.Scope, sessionID uuid.UUID, now time.Time) error
	ListByUser(ctx context.Context, scope *rls.Scope, userID uuid.UUID, now time.Time) ([]Session, error)
	DeleteExpired(ctx context.Context, scope *rls.Scope, before time.Time) (int64, error)
	ListOrganizationIDs(ctx context.Context, db *gorm.DB) ([]uuid.UUID, error)
}
