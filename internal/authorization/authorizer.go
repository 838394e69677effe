package authorization

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	anyDomain     = "*"
	anyPermission = "*"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

// Authorizer decides whether a role may use a permission inside an
// organization. A check passes when the permission was granted to the user
// explicitly or when a policy row for the role matches.
type Authorizer struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewAuthorizer(p Params) *Authorizer {
	return &Authorizer{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func domainFor(orgID uuid.UUID) string {
	return fmt.Sprintf("org:%s", orgID)
}

// Allowed reports whether a user holding role and the explicitly granted set
// may use perm inside orgID. Enforcer errors deny.
func (a *Authorizer) Allowed(orgID uuid.UUID, role Role, granted PermissionSet, perm Permission) bool {
	if !perm.Valid() || !role.Valid() {
		return false
	}
	if granted.Has(perm) {
		return true
	}
	if orgID == uuid.Nil {
		return false
	}

	allowed, err := a.enforcer.Enforce(domainFor(orgID), role.String(), perm.String())
	if err != nil {
		a.log.Warn("policy evaluation failed",
			zap.String("org_id", orgID.String()),
			zap.String("role", role.String()),
			zap.String("permission", perm.String()),
			zap.Error(err),
		)
		return false
	}
	return allowed
}

// GrantRole lets every user of role in orgID use perm. Admin already holds
// every permission and cannot be changed.
func (a *Authorizer) GrantRole(ctx context.Context, orgID uuid.UUID, actorID string, role Role, perm Permission) error {
	if err := validateGrant(orgID, role, perm); err != nil {
		return err
	}

	added, err := a.enforcer.AddPolicy(domainFor(orgID), role.String(), perm.String())
	if err != nil {
		return err
	}
	if added {
		a.audit(ctx, orgID, actorID, auditdomain.ActionRolePermissionGrant, role, perm)
	}
	return nil
}

func (a *Authorizer) RevokeRole(ctx context.Context, orgID uuid.UUID, actorID string, role Role, perm Permission) error {
	if err := validateGrant(orgID, role, perm); err != nil {
		return err
	}

	removed, err := a.enforcer.RemovePolicy(domainFor(orgID), role.String(), perm.String())
	if err != nil {
		return err
	}
	if removed {
		a.audit(ctx, orgID, actorID, auditdomain.ActionRolePermissionDrop, role, perm)
	}
	return nil
}

// RolePermissions returns the grants stored for role in orgID. Admin reports
// the full allow-list.
func (a *Authorizer) RolePermissions(orgID uuid.UUID, role Role) (PermissionSet, error) {
	if orgID == uuid.Nil {
		return nil, ErrInvalidOrg
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if role == RoleAdmin {
		return NewPermissionSet(AllPermissions...), nil
	}

	rules, err := a.enforcer.GetFilteredPolicy(0, domainFor(orgID), role.String())
	if err != nil {
		return nil, err
	}
	set := NewPermissionSet()
	for _, rule := range rules {
		if len(rule) < 3 {
			continue
		}
		if perm := Permission(rule[2]); perm.Valid() {
			set[perm] = struct{}{}
		}
	}
	return set, nil
}

// DropOrganization removes every policy row scoped to orgID.
func (a *Authorizer) DropOrganization(orgID uuid.UUID) error {
	if orgID == uuid.Nil {
		return ErrInvalidOrg
	}
	_, err := a.enforcer.RemoveFilteredPolicy(0, domainFor(orgID))
	return err
}

func (a *Authorizer) audit(ctx context.Context, orgID uuid.UUID, actorID string, action string, role Role, perm Permission) {
	if a.auditSvc == nil {
		return
	}
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	targetID := role.String()
	if err := a.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), actor, action, "role", &targetID, map[string]any{
		"role":       role.String(),
		"permission": perm.String(),
	}); err != nil {
		a.log.Warn("failed to audit role change", zap.String("action", action), zap.Error(err))
	}
}

func validateGrant(orgID uuid.UUID, role Role, perm Permission) error {
	if orgID == uuid.Nil {
		return ErrInvalidOrg
	}
	if !role.Valid() {
		return ErrInvalidRole
	}
	if role == RoleAdmin {
		return ErrImmutableRole
	}
	if !perm.Valid() {
		return ErrInvalidPermission
	}
	return nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// admin implies every permission in every organization
		{anyDomain, RoleAdmin.String(), anyPermission},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
