package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/audit/repository"
	"github.com/smallbiznis/crmauth/internal/auditcontext"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, clk
}

func TestAuditLogRecordsRequestMetadataAndMasksSecrets(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := uuid.New()

	ctx := auditcontext.WithRequestID(context.Background(), "req-1")
	ctx = auditcontext.WithIPAddress(ctx, "10.0.0.1")
	ctx = auditcontext.WithUserAgent(ctx, "curl/8")
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeUser), "user-1")

	targetID := "key-1"
	err := svc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionAPIKeyCreated, "api_key", &targetID, map[string]any{
		"name":     "ci",
		"password": "Passw0rd!",
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), orgID, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, auditdomain.ActionAPIKeyCreated, entry.Action)
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "user-1", *entry.ActorID)
	require.NotNil(t, entry.RequestID)
	assert.Equal(t, "req-1", *entry.RequestID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.1", *entry.IPAddress)
	assert.Equal(t, "ci", entry.Metadata["name"])
	assert.Equal(t, "****", entry.Metadata["password"])
}

func TestAuditLogWithoutOrganizationDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.AuditLog(context.Background(), nil, "", nil, auditdomain.ActionLoginFailed, "user", nil, nil)
	require.NoError(t, err)

	err = svc.AuditLog(context.Background(), nil, "", nil, "  ", "user", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListIsScopedToOrganization(t *testing.T) {
	svc, _ := newTestService(t)
	orgA := uuid.New()
	orgB := uuid.New()

	require.NoError(t, svc.AuditLog(context.Background(), &orgA, "system", nil, auditdomain.ActionOrgBootstrapped, "organization", nil, nil))
	require.NoError(t, svc.AuditLog(context.Background(), &orgB, "system", nil, auditdomain.ActionOrgBootstrapped, "organization", nil, nil))

	resp, err := svc.List(context.Background(), orgA, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, orgA, *resp.AuditLogs[0].OrgID)

	_, err = svc.List(context.Background(), uuid.Nil, auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, clk := newTestService(t)
	orgID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(context.Background(), &orgID, "system", nil, auditdomain.ActionUserUpdated, "user", nil, map[string]any{"n": i}))
		clk.Advance(time.Second)
	}

	req := auditdomain.ListAuditLogRequest{}
	req.PageSize = 2
	first, err := svc.List(context.Background(), orgID, req)
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextPageToken)
	assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[1].CreatedAt))

	req.PageToken = first.NextPageToken
	second, err := svc.List(context.Background(), orgID, req)
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)

	req.PageToken = "not-a-token"
	_, err = svc.List(context.Background(), orgID, req)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
