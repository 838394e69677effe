package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
	"github.com/smallbiznis/crmauth/internal/apikey/repository"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	orgrepository "github.com/smallbiznis/crmauth/internal/organization/repository"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testEnv struct {
	svc  apikeydomain.Service
	clk  *clock.FakeClock
	orgs orgdomain.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&orgdomain.Organization{}, &apikeydomain.APIKey{}, &apikeydomain.Usage{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	orgs := orgrepository.NewRepository(conn)
	svc := New(Params{
		DB:     conn,
		Log:    zaptest.NewLogger(t),
		Config: config.Config{APIKey: config.APIKeyConfig{Prefix: "crmk"}},
		Clock:  clk,
		GenID:  node,
		Repo:   repository.Provide(),
		Orgs:   orgs,
	})
	return &testEnv{svc: svc, clk: clk, orgs: orgs}
}

func (e *testEnv) org(t *testing.T, slug string) *orgdomain.Organization {
	t.Helper()
	now := e.clk.Now()
	org := &orgdomain.Organization{
		ID:        uuid.New(),
		Name:      slug,
		Slug:      slug,
		Plan:      "free",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.orgs.Create(context.Background(), org))
	return org
}

func TestCreateReturnsKeyOnceAndStoresHash(t *testing.T) {
	env := newTestEnv(t)
	acme := env.org(t, "acme")

	res, err := env.svc.Create(context.Background(), acme.ID, "user-1", apikeydomain.CreateRequest{
		Name:        "ci",
		Permissions: []string{"contacts:read"},
	})
	require.NoError(t, err)

	parts := strings.Split(res.Key, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, "crmk", parts[0])
	assert.Equal(t, "acme", parts[1])
	assert.Len(t, parts[2], 64)
	assert.Equal(t, "crmk_acme_"+parts[2][:12], res.APIKey.KeyPrefix)

	stored, err := env.svc.Get(context.Background(), acme.ID, res.APIKey.ID)
	require.NoError(t, err)
	assert.Equal(t, apikeydomain.HashAPIKey(res.Key), stored.KeyHash)
	assert.NotContains(t, stored.KeyPrefix, parts[2])
}

func TestCreateValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	acme := env.org(t, "acme")

	_, err := env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: "x", Permissions: []string{"contacts:delete"}})
	assert.ErrorIs(t, err, authorization.ErrInvalidPermission)

	_, err = env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: "x", AllowedIPs: []string{"10.0.0.0/33"}})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidAllowedIP)

	past := env.clk.Now().Add(-time.Minute)
	_, err = env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: "x", ExpiresAt: &past})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidExpiry)

	_, err = env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: " "})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)
}

func TestVerifyOnlyConsultsSlugOrganization(t *testing.T) {
	env := newTestEnv(t)
	acme := env.org(t, "acme")
	env.org(t, "globex")

	res, err := env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: "ci", Permissions: []string{"contacts:read"}})
	require.NoError(t, err)

	principal, err := env.svc.Verify(context.Background(), res.Key, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, acme.ID, principal.OrgID)
	assert.True(t, principal.HasPermission(authorization.ContactsRead))
	assert.False(t, principal.HasPermission(authorization.ContactsWrite))

	forged := strings.Replace(res.Key, "_acme_", "_globex_", 1)
	_, err = env.svc.Verify(context.Background(), forged, "203.0.113.9")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)

	_, err = env.svc.Verify(context.Background(), "crmk_acme_short", "203.0.113.9")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestVerifyRejectsInactiveExpiredAndForeignIP(t *testing.T) {
	env := newTestEnv(t)
	acme := env.org(t, "acme")

	expires := env.clk.Now().Add(time.Hour)
	res, err := env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{
		Name:       "ci",
		AllowedIPs: []string{"10.1.0.0/16", "192.0.2.7"},
		ExpiresAt:  &expires,
	})
	require.NoError(t, err)

	_, err = env.svc.Verify(context.Background(), res.Key, "10.1.44.2")
	assert.NoError(t, err)
	_, err = env.svc.Verify(context.Background(), res.Key, "192.0.2.7")
	assert.NoError(t, err)
	_, err = env.svc.Verify(context.Background(), res.Key, "10.2.0.1")
	assert.ErrorIs(t, err, apikeydomain.ErrIPNotAllowed)

	env.clk.Advance(2 * time.Hour)
	_, err = env.svc.Verify(context.Background(), res.Key, "10.1.44.2")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)

	other, err := env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: "other"})
	require.NoError(t, err)
	require.NoError(t, env.svc.Deactivate(context.Background(), acme.ID, other.APIKey.ID, ""))
	_, err = env.svc.Verify(context.Background(), other.Key, "10.1.44.2")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestRateLimitWindow(t *testing.T) {
	env := newTestEnv(t)
	acme := env.org(t, "acme")

	res, err := env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: "ci", RateLimitPerHour: 5})
	require.NoError(t, err)
	principal, err := env.svc.Verify(context.Background(), res.Key, "127.0.0.1")
	require.NoError(t, err)

	start := env.clk.Now()
	for i := 0; i < 5; i++ {
		status, err := env.svc.CheckRateLimit(context.Background(), principal)
		require.NoError(t, err)
		require.False(t, status.Exceeded)
		require.NoError(t, env.svc.RecordUsage(context.Background(), principal, apikeydomain.UsageEvent{
			Method: "GET", Path: "/service/v1/whoami", StatusCode: 200, IPAddress: "127.0.0.1",
		}))
		env.clk.Advance(time.Minute)
	}

	status, err := env.svc.CheckRateLimit(context.Background(), principal)
	require.NoError(t, err)
	assert.True(t, status.Exceeded)
	assert.EqualValues(t, 5, status.Used)
	assert.EqualValues(t, 0, status.Remaining)
	assert.WithinDuration(t, start.Add(time.Hour), status.ResetAt, 0)

	env.clk.Set(start.Add(time.Hour))
	status, err = env.svc.CheckRateLimit(context.Background(), principal)
	require.NoError(t, err)
	assert.False(t, status.Exceeded)
	assert.EqualValues(t, 4, status.Used)
	assert.EqualValues(t, 1, status.Remaining)

	stored, err := env.svc.Get(context.Background(), acme.ID, res.APIKey.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, stored.UsageCount)
	require.NotNil(t, stored.LastUsedIP)
	assert.Equal(t, "127.0.0.1", *stored.LastUsedIP)
}

func TestRotateKeepsIDAndInvalidatesOldSecret(t *testing.T) {
	env := newTestEnv(t)
	acme := env.org(t, "acme")

	res, err := env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: "ci"})
	require.NoError(t, err)

	rotated, err := env.svc.Rotate(context.Background(), acme.ID, res.APIKey.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, res.APIKey.ID, rotated.APIKey.ID)
	assert.NotEqual(t, res.Key, rotated.Key)

	_, err = env.svc.Verify(context.Background(), res.Key, "127.0.0.1")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
	_, err = env.svc.Verify(context.Background(), rotated.Key, "127.0.0.1")
	assert.NoError(t, err)
}

func TestKeysAreScopedToOrganization(t *testing.T) {
	env := newTestEnv(t)
	acme := env.org(t, "acme")
	globex := env.org(t, "globex")

	res, err := env.svc.Create(context.Background(), acme.ID, "", apikeydomain.CreateRequest{Name: "ci"})
	require.NoError(t, err)

	_, err = env.svc.Get(context.Background(), globex.ID, res.APIKey.ID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
	assert.ErrorIs(t, env.svc.Delete(context.Background(), globex.ID, res.APIKey.ID, ""), apikeydomain.ErrNotFound)

	listed, err := env.svc.List(context.Background(), globex.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)

	require.NoError(t, env.svc.Delete(context.Background(), acme.ID, res.APIKey.ID, ""))
	_, err = env.svc.Get(context.Background(), acme.ID, res.APIKey.ID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}
