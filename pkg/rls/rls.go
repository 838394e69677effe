// Package rls scopes database work to one organization.
//
// Every tenant-scoped statement runs inside a transaction that first sets the
// transaction-local setting app.current_org_id, which the Postgres row level
// security policies read. The setting is discarded at commit or rollback, so
// a pooled connection never carries a previous request's tenant.
package rls

import (
	"context"
	"errors"

	"github.com/google/uuid"
	obslogger "github.com/smallbiznis/crmauth/internal/observability/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	SettingOrgID       = "app.current_org_id"
	SettingCrossTenant = "app.cross_tenant_lookup"
)

var (
	ErrMissingTenant    = errors.New("rls: organization id is required")
	ErrLookupNotAllowed = errors.New("rls: cross-tenant lookup not allowed")
	ErrMissingDatabase  = errors.New("rls: database handle is required")
	ErrMissingScope     = errors.New("rls: tenant scope is required")
)

// Scope is the tenant-bound handle passed to repositories.
type Scope struct {
	db    *gorm.DB
	orgID uuid.UUID
}

// DB returns the transaction bound to the scope's organization.
func (s *Scope) DB() *gorm.DB {
	return s.db
}

func (s *Scope) OrgID() uuid.UUID {
	return s.orgID
}

// Check returns ErrMissingScope for a nil scope.
func (s *Scope) Check() error {
	if s == nil || s.db == nil || s.orgID == uuid.Nil {
		return ErrMissingScope
	}
	return nil
}

// Lookup names an unscoped read. Only the values declared here exist.
type Lookup string

const (
	LookupLoginByEmail Lookup = "login_by_email"
	LookupResetByToken Lookup = "reset_by_token"
)

func (l Lookup) valid() bool {
	return l == LookupLoginByEmail || l == LookupResetByToken
}

// WithTenant runs fn inside a transaction scoped to orgID.
func WithTenant(ctx context.Context, db *gorm.DB, orgID uuid.UUID, fn func(scope *Scope) error) error {
	if db == nil {
		return ErrMissingDatabase
	}
	if orgID == uuid.Nil {
		return ErrMissingTenant
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := setLocal(tx, SettingOrgID, orgID.String()); err != nil {
			return err
		}
		return fn(&Scope{db: tx, orgID: orgID})
	})
}

// CrossTenant runs one of the named unscoped lookups in its own transaction.
// Callers re-enter WithTenant with the owning organization as soon as the
// lookup identifies it.
func CrossTenant(ctx context.Context, db *gorm.DB, lookup Lookup, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return ErrMissingDatabase
	}
	if !lookup.valid() {
		return ErrLookupNotAllowed
	}

	obslogger.FromContext(ctx).Named("rls").Info("cross_tenant_lookup",
		zap.String("lookup", string(lookup)),
	)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := setLocal(tx, SettingCrossTenant, string(lookup)); err != nil {
			return err
		}
		return fn(tx)
	})
}

// setLocal is the parameterised form of SET LOCAL. Other dialects have no
// session settings; their queries rely on the explicit org_id filters.
func setLocal(tx *gorm.DB, key, value string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT set_config(?, ?, true)", key, value).Error
}
