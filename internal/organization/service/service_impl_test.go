package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/auth/password"
	authrepository "github.com/smallbiznis/crmauth/internal/auth/repository"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/internal/organization/event"
	"github.com/smallbiznis/crmauth/internal/organization/repository"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type capturedEvent struct {
	topic   string
	payload []byte
}

type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{topic: topic, payload: payload})
	return nil
}

// failingUsers fails every insert after the organization row is written.
type failingUsers struct {
	authdomain.UserRepository
}

func (failingUsers) Create(ctx context.Context, scope *rls.Scope, user *authdomain.User) error {
	return errors.New("users insert failed")
}

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *capturePublisher) {
	t.Helper()
	users, _ := authrepository.New()
	return newTestServiceWithUsers(t, users)
}

func newTestServiceWithUsers(t *testing.T, users authdomain.UserRepository) (domain.Service, *gorm.DB, *capturePublisher) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&domain.Organization{},
		&authdomain.User{},
		&authdomain.Session{},
		&apikeydomain.APIKey{},
	))

	publisher := &capturePublisher{}
	cfg := config.Config{Auth: config.AuthConfig{PasswordAlgorithm: config.PasswordAlgorithmBcrypt, BcryptCost: 4}}
	svc := NewService(Params{
		DB:     conn,
		Log:    zaptest.NewLogger(t),
		Clock:  clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		Repo:   repository.NewRepository(conn),
		Users:  users,
		Hasher: password.New(cfg),
		Tenancy: config.NewStaticTenancyPolicyHolder(config.TenancyPolicy{
			ReservedSubdomains: config.DefaultReservedSubdomains,
		}),
		Publisher: publisher,
	})
	return svc, conn, publisher
}

func bootstrapAcme(t *testing.T, svc domain.Service) *domain.BootstrapResult {
	t.Helper()
	res, err := svc.Bootstrap(context.Background(), domain.BootstrapRequest{
		Name:          "Acme Corp",
		AdminEmail:    "a@acme.com",
		AdminPassword: "correct-horse",
	})
	require.NoError(t, err)
	return res
}

func TestBootstrapCreatesOrganizationAndAdmin(t *testing.T) {
	svc, conn, _ := newTestService(t)

	res := bootstrapAcme(t, svc)
	assert.Equal(t, "acme-corp", res.Organization.Slug)
	assert.Equal(t, "free", res.Organization.Plan)
	assert.Equal(t, "a@acme.com", res.AdminEmail)

	var admin authdomain.User
	require.NoError(t, conn.First(&admin, "id = ?", res.AdminUserID).Error)
	assert.Equal(t, res.Organization.ID, admin.OrgID)
	assert.Equal(t, "admin", admin.Role)
	assert.True(t, admin.IsActive)
}


func TestBootstrapLeavesNothingBehindWhenAdminInsertFails(t *testing.T) {
	base, _ := authrepository.New()
	svc, conn, publisher := newTestServiceWithUsers(t, failingUsers{UserRepository: base})

	_, err := svc.Bootstrap(context.Background(), domain.BootstrapRequest{
		Name:          "Acme Corp",
		AdminEmail:    "a@acme.com",
		AdminPassword: "correct-horse",
	})
	require.Error(t, err)

	var orgs int64
	require.NoError(t, conn.Model(&domain.Organization{}).Count(&orgs).Error)
	assert.Zero(t, orgs)
	_, err = repository.NewRepository(conn).FindBySlug(context.Background(), "acme-corp")
	assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
	assert.Empty(t, publisher.events)
}
func TestBootstrapRejectsBadSlugs(t *testing.T) {
	svc, conn, _ := newTestService(t)
	bootstrapAcme(t, svc)

	_, err := svc.Bootstrap(context.Background(), domain.BootstrapRequest{
		Name: "Other", Slug: "acme-corp", AdminEmail: "b@acme.com", AdminPassword: "correct-horse",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateSlug)

	_, err = svc.Bootstrap(context.Background(), domain.BootstrapRequest{
		Name: "Www", Slug: "www", AdminEmail: "b@acme.com", AdminPassword: "correct-horse",
	})
	assert.ErrorIs(t, err, domain.ErrReservedSlug)

	_, err = svc.Bootstrap(context.Background(), domain.BootstrapRequest{
		Name: "Under", Slug: "under_score", AdminEmail: "b@acme.com", AdminPassword: "correct-horse",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSlug)

	var users int64
	require.NoError(t, conn.Model(&authdomain.User{}).Count(&users).Error)
	assert.EqualValues(t, 1, users)
}

func TestBootstrapRejectsWeakAdminPassword(t *testing.T) {
	svc, conn, _ := newTestService(t)

	_, err := svc.Bootstrap(context.Background(), domain.BootstrapRequest{
		Name: "Acme", AdminEmail: "a@acme.com", AdminPassword: "short",
	})
	assert.ErrorIs(t, err, authdomain.ErrWeakPassword)

	var orgs int64
	require.NoError(t, conn.Model(&domain.Organization{}).Count(&orgs).Error)
	assert.Zero(t, orgs)
}

func TestUpdateOrganization(t *testing.T) {
	svc, _, _ := newTestService(t)
	res := bootstrapAcme(t, svc)

	name := "Acme Holdings"
	customDomain := "CRM.Acme.io"
	maxUsers := 25
	org, err := svc.Update(context.Background(), res.Organization.ID, res.AdminUserID, domain.UpdateRequest{
		Name:     &name,
		Domain:   &customDomain,
		MaxUsers: &maxUsers,
		Settings: map[string]any{"currency": "EUR"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", org.Name)
	require.NotNil(t, org.Domain)
	assert.Equal(t, "crm.acme.io", *org.Domain)
	assert.Equal(t, 25, org.MaxUsers)
	assert.Equal(t, "EUR", org.Settings["currency"])

	bad := "not a domain"
	_, err = svc.Update(context.Background(), res.Organization.ID, res.AdminUserID, domain.UpdateRequest{Domain: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidDomain)
}

func TestDeactivateCascades(t *testing.T) {
	svc, conn, publisher := newTestService(t)
	res := bootstrapAcme(t, svc)
	orgID := res.Organization.ID

	require.NoError(t, conn.Create(&authdomain.Session{
		ID: res.AdminUserID, UserID: res.AdminUserID, OrgID: orgID, TokenHash: "h1",
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(), LastSeenAt: time.Now(),
	}).Error)

	_, err := svc.Deactivate(context.Background(), orgID, res.AdminUserID, "wrong")
	assert.ErrorIs(t, err, domain.ErrConfirmationMismatch)

	org, err := svc.Deactivate(context.Background(), orgID, res.AdminUserID, "acme-corp")
	require.NoError(t, err)
	assert.False(t, org.IsActive)
	assert.NotNil(t, org.DeactivatedAt)

	var admin authdomain.User
	require.NoError(t, conn.First(&admin, "id = ?", res.AdminUserID).Error)
	assert.False(t, admin.IsActive)

	var sessions int64
	require.NoError(t, conn.Model(&authdomain.Session{}).Where("org_id = ?", orgID).Count(&sessions).Error)
	assert.Zero(t, sessions)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, event.OrganizationDeactivatedTopic, publisher.events[0].topic)

	_, err = svc.Deactivate(context.Background(), orgID, res.AdminUserID, "acme-corp")
	assert.ErrorIs(t, err, domain.ErrOrganizationInactive)
}
