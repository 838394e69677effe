package authorization

import (
	"context"
	"testing"

	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) AuditLog(ctx context.Context, orgID *uuid.UUID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	args := m.Called(ctx, orgID, actorType, actorID, action, targetType, targetID, metadata)
	return args.Error(0)
}

func (m *mockAudit) List(ctx context.Context, orgID uuid.UUID, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	args := m.Called(ctx, orgID, req)
	return args.Get(0).(auditdomain.ListAuditLogResponse), args.Error(1)
}

func newTestAuthorizer(t *testing.T, audit auditdomain.Service) *Authorizer {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)

	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)

	return NewAuthorizer(Params{
		Log:      zaptest.NewLogger(t),
		Enforcer: enforcer,
		AuditSvc: audit,
	})
}

func TestAdminImpliesEveryPermission(t *testing.T) {
	authz := newTestAuthorizer(t, nil)
	orgID := uuid.New()

	for _, perm := range AllPermissions {
		assert.True(t, authz.Allowed(orgID, RoleAdmin, NewPermissionSet(), perm), perm)
	}
	assert.False(t, authz.Allowed(orgID, RoleAdmin, NewPermissionSet(), Permission("contacts:delete")))
}

func TestExplicitGrantOrDeny(t *testing.T) {
	authz := newTestAuthorizer(t, nil)
	orgID := uuid.New()
	granted := NewPermissionSet(ContactsRead)

	assert.True(t, authz.Allowed(orgID, RoleUser, granted, ContactsRead))
	assert.False(t, authz.Allowed(orgID, RoleUser, granted, ContactsWrite))
	assert.False(t, authz.Allowed(orgID, RoleViewer, nil, ReportsRead))
}

func TestRoleGrantIsScopedToOrganization(t *testing.T) {
	audit := &mockAudit{}
	audit.On("AuditLog", mock.Anything, mock.Anything, "user", mock.Anything,
		auditdomain.ActionRolePermissionGrant, "role", mock.Anything, mock.Anything).Return(nil).Once()
	audit.On("AuditLog", mock.Anything, mock.Anything, "user", mock.Anything,
		auditdomain.ActionRolePermissionDrop, "role", mock.Anything, mock.Anything).Return(nil).Once()

	authz := newTestAuthorizer(t, audit)
	orgA := uuid.New()
	orgB := uuid.New()
	ctx := context.Background()

	require.NoError(t, authz.GrantRole(ctx, orgA, "admin-1", RoleManager, UsersManage))
	// granting twice is a no-op and is not audited again
	require.NoError(t, authz.GrantRole(ctx, orgA, "admin-1", RoleManager, UsersManage))

	assert.True(t, authz.Allowed(orgA, RoleManager, nil, UsersManage))
	assert.False(t, authz.Allowed(orgB, RoleManager, nil, UsersManage))
	assert.False(t, authz.Allowed(orgA, RoleUser, nil, UsersManage))

	perms, err := authz.RolePermissions(orgA, RoleManager)
	require.NoError(t, err)
	assert.Equal(t, []Permission{UsersManage}, perms.Slice())

	require.NoError(t, authz.RevokeRole(ctx, orgA, "admin-1", RoleManager, UsersManage))
	assert.False(t, authz.Allowed(orgA, RoleManager, nil, UsersManage))

	audit.AssertExpectations(t)
}

func TestAdminRoleIsImmutable(t *testing.T) {
	authz := newTestAuthorizer(t, nil)
	orgID := uuid.New()

	err := authz.GrantRole(context.Background(), orgID, "", RoleAdmin, UsersManage)
	assert.ErrorIs(t, err, ErrImmutableRole)
	err = authz.RevokeRole(context.Background(), orgID, "", RoleAdmin, UsersManage)
	assert.ErrorIs(t, err, ErrImmutableRole)

	perms, err := authz.RolePermissions(orgID, RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, perms, len(AllPermissions))
}

func TestGrantValidation(t *testing.T) {
	authz := newTestAuthorizer(t, nil)

	assert.ErrorIs(t, authz.GrantRole(context.Background(), uuid.Nil, "", RoleUser, ContactsRead), ErrInvalidOrg)
	assert.ErrorIs(t, authz.GrantRole(context.Background(), uuid.New(), "", Role("owner"), ContactsRead), ErrInvalidRole)
	assert.ErrorIs(t, authz.GrantRole(context.Background(), uuid.New(), "", RoleUser, Permission("x:y")), ErrInvalidPermission)
}

func TestDropOrganizationRemovesGrants(t *testing.T) {
	authz := newTestAuthorizer(t, nil)
	orgID := uuid.New()

	require.NoError(t, authz.GrantRole(context.Background(), orgID, "", RoleViewer, AuditRead))
	require.NoError(t, authz.DropOrganization(orgID))
	assert.False(t, authz.Allowed(orgID, RoleViewer, nil, AuditRead))
	// the global admin rule survives
	assert.True(t, authz.Allowed(orgID, RoleAdmin, nil, AuditRead))
}
