package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/pkg/rls"
)

// Repository methods all run inside the owning organization's scope.
type Repository interface {
	Insert(ctx context.Context, scope *rls.Scope, key *APIKey) error
	FindByID(ctx context.Context, scope *rls.Scope, id uuid.UUID) (*APIKey, error)
	List(ctx context.Context, scope *rls.Scope) ([]APIKey, error)
	ListUsable(ctx context.Context, scope *rls.Scope, now time.Time) ([]APIKey, error)
	Update(ctx context.Context, scope *rls.Scope, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, scope *rls.Scope, id uuid.UUID) error

	InsertUsage(ctx context.Context, scope *rls.Scope, usage *Usage) error
	MarkUsed(ctx context.Context, scope *rls.Scope, id uuid.UUID, at time.Time, ip string) error
	UsageWindow(ctx context.Context, scope *rls.Scope, id uuid.UUID, from, to time.Time) (count int64, oldest *time.Time, err error)
}
