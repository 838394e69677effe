package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/auth/password"
	"github.com/smallbiznis/crmauth/internal/auth/repository"
	"github.com/smallbiznis/crmauth/internal/auth/token"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	orgrepository "github.com/smallbiznis/crmauth/internal/organization/repository"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type sentMail struct {
	to       []string
	template string
	data     map[string]any
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	return nil
}

func (m *recordingMailer) SendTemplate(ctx context.Context, to []string, name string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, template: name, data: data})
	return nil
}

func (m *recordingMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	clk    *clock.FakeClock
	orgs   orgdomain.Repository
	mailer *recordingMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&orgdomain.Organization{}, &domain.User{}, &domain.Session{}))

	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cfg := config.Config{
		PublicURL: "https://crm.example.com",
		Auth: config.AuthConfig{
			PasswordAlgorithm: config.PasswordAlgorithmBcrypt,
			BcryptCost:        4,
			TokenTTL:          24 * time.Hour,
			ResetTokenTTL:     time.Hour,
			MaxFailedLogins:   3,
			LockoutDuration:   15 * time.Minute,
		},
	}

	users, sessions := repository.New()
	orgs := orgrepository.NewRepository(conn)
	mailer := &recordingMailer{}
	svc, err := NewService(Params{
		DB:       conn,
		Log:      zaptest.NewLogger(t),
		Config:   cfg,
		Clock:    clk,
		Users:    users,
		Sessions: sessions,
		Orgs:     orgs,
		Hasher:   password.New(cfg),
		Tokens:   token.NewIssuer([]byte(strings.Repeat("k", 32)), token.WithClock(clk), token.WithTTL(cfg.Auth.TokenTTL)),
		Mailer:   mailer,
	})
	require.NoError(t, err)

	return &fixture{db: conn, svc: svc, clk: clk, orgs: orgs, mailer: mailer}
}

func (f *fixture) org(t *testing.T, slug string) *orgdomain.Organization {
	t.Helper()
	now := f.clk.Now()
	org := &orgdomain.Organization{
		ID:        uuid.New(),
		Name:      strings.ToUpper(slug[:1]) + slug[1:],
		Slug:      slug,
		Plan:      "free",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.orgs.Create(context.Background(), org))
	return org
}

func (f *fixture) user(t *testing.T, orgID uuid.UUID, email, role string) *domain.User {
	t.Helper()
	user, err := f.svc.CreateUser(context.Background(), orgID, domain.CreateUserRequest{
		Email:    email,
		Password: "correct-horse",
		Role:     role,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) login(t *testing.T, email, hint string) *domain.LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), domain.LoginRequest{
		Email:    email,
		Password: "correct-horse",
		OrgHint:  hint,
	})
	require.NoError(t, err)
	return res
}

func TestLoginAndAuthorizeResolvesPrincipal(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	user := f.user(t, acme.ID, "A@Acme.com", "admin")
	assert.Equal(t, "a@acme.com", user.Email)

	res := f.login(t, "a@acme.com", "")
	assert.Equal(t, acme.ID, res.Organization.ID)
	assert.Equal(t, f.clk.Now().Add(24*time.Hour).Unix(), res.ExpiresAt.Unix())

	principal, err := f.svc.Authorize(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
	assert.Equal(t, acme.ID, principal.OrgID)
	assert.Equal(t, "acme", principal.OrgSlug)
	assert.Equal(t, res.SessionID, principal.SessionID)
	assert.True(t, principal.IsAdmin())
}

func TestLoginRejectsWrongPasswordAndUnknownUserAlike(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "")

	_, err := f.svc.Login(context.Background(), domain.LoginRequest{Email: "a@acme.com", Password: "nope-nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), domain.LoginRequest{Email: "ghost@acme.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLoginRequiresOrganizationWhenEmailIsShared(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	globex := f.org(t, "globex")
	f.user(t, acme.ID, "pat@example.com", "")
	other := f.user(t, globex.ID, "pat@example.com", "")

	_, err := f.svc.Login(context.Background(), domain.LoginRequest{Email: "pat@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, domain.ErrOrganizationRequired)

	res := f.login(t, "pat@example.com", "globex")
	assert.Equal(t, other.ID, res.User.ID)
	assert.Equal(t, globex.ID, res.Organization.ID)

	res = f.login(t, "pat@example.com", acme.ID.String())
	assert.Equal(t, acme.ID, res.Organization.ID)
}

func TestLoginLocksAccountAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "")

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(context.Background(), domain.LoginRequest{Email: "a@acme.com", Password: "wrong-pass"})
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	_, err := f.svc.Login(context.Background(), domain.LoginRequest{Email: "a@acme.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	f.clk.Advance(16 * time.Minute)
	f.login(t, "a@acme.com", "")
}

func TestLoginUpgradesWeakerHash(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	user := f.user(t, acme.ID, "a@acme.com", "")

	legacy, err := password.NewArgon2id(password.DefaultArgon2Params).Hash("correct-horse")
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&domain.User{}).Where("id = ?", user.ID).Update("password_hash", legacy).Error)

	f.login(t, "a@acme.com", "")

	var stored domain.User
	require.NoError(t, f.db.First(&stored, "id = ?", user.ID).Error)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$2"))
}

func TestRevokedSessionNoLongerAuthorizes(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "")
	res := f.login(t, "a@acme.com", "")

	principal, err := f.svc.Authorize(context.Background(), res.Token)
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(context.Background(), principal, res.Token))

	_, err = f.svc.Authorize(context.Background(), res.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestLogoutAllOnlyAffectsCaller(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "admin")
	f.user(t, acme.ID, "b@acme.com", "")

	first := f.login(t, "a@acme.com", "")
	second := f.login(t, "a@acme.com", "")
	other := f.login(t, "b@acme.com", "")

	principal, err := f.svc.Authorize(context.Background(), first.Token)
	require.NoError(t, err)
	revoked, err := f.svc.LogoutAll(context.Background(), principal)
	require.NoError(t, err)
	assert.EqualValues(t, 2, revoked)

	_, err = f.svc.Authorize(context.Background(), second.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.Authorize(context.Background(), other.Token)
	assert.NoError(t, err)
}

func TestExpiredSessionIsRejectedAndSwept(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "")
	res := f.login(t, "a@acme.com", "")

	f.clk.Advance(25 * time.Hour)
	_, err := f.svc.Authorize(context.Background(), res.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	deleted, err := f.svc.SweepExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestRefreshReplacesSession(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "")
	res := f.login(t, "a@acme.com", "")

	principal, err := f.svc.Authorize(context.Background(), res.Token)
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	next, err := f.svc.Refresh(context.Background(), principal, res.Token, domain.ClientInfo{})
	require.NoError(t, err)
	assert.NotEqual(t, res.Token, next.Token)

	_, err = f.svc.Authorize(context.Background(), res.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.Authorize(context.Background(), next.Token)
	assert.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), principal, res.Token, domain.ClientInfo{})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestDeletedUserCanBeRecreatedWithSameID(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	admin := f.user(t, acme.ID, "a@acme.com", "admin")
	member := f.user(t, acme.ID, "b@acme.com", "")
	res := f.login(t, "b@acme.com", "")

	principal := &domain.Principal{UserID: admin.ID, OrgID: acme.ID}
	require.NoError(t, f.svc.DeleteUser(context.Background(), principal, member.ID))

	_, err := f.svc.Authorize(context.Background(), res.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.GetUser(context.Background(), acme.ID, member.ID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	again := f.user(t, acme.ID, "b@acme.com", "")
	assert.Equal(t, member.ID, again.ID)
	assert.True(t, again.Live())
}

func TestDeactivatedUserCanBeRecreatedWithSameID(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	admin := f.user(t, acme.ID, "a@acme.com", "admin")
	member := f.user(t, acme.ID, "b@acme.com", "")

	inactive := false
	principal := &domain.Principal{UserID: admin.ID, OrgID: acme.ID}
	_, err := f.svc.UpdateUser(context.Background(), principal, member.ID, domain.UpdateUserRequest{IsActive: &inactive})
	require.NoError(t, err)

	again, err := f.svc.CreateUser(context.Background(), acme.ID, domain.CreateUserRequest{Email: "b@acme.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, member.ID, again.ID)
	assert.True(t, again.Live())

	f.login(t, "b@acme.com", "")
}

func TestLoginRejectsDeactivatedUserWithCorrectPassword(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	admin := f.user(t, acme.ID, "a@acme.com", "admin")
	member := f.user(t, acme.ID, "b@acme.com", "")
	f.login(t, "b@acme.com", "")

	inactive := false
	principal := &domain.Principal{UserID: admin.ID, OrgID: acme.ID}
	_, err := f.svc.UpdateUser(context.Background(), principal, member.ID, domain.UpdateUserRequest{IsActive: &inactive})
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), domain.LoginRequest{Email: "b@acme.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.Authenticate(context.Background(), domain.AuthenticateRequest{Email: "b@acme.com", Password: "correct-horse", OrgHint: "acme"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestCreateUserRejectsDuplicateAndLimit(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	require.NoError(t, f.orgs.Update(context.Background(), acme.ID, map[string]any{"max_users": 1}))
	f.user(t, acme.ID, "a@acme.com", "admin")

	_, err := f.svc.CreateUser(context.Background(), acme.ID, domain.CreateUserRequest{Email: "A@acme.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, domain.ErrDuplicateEmail)

	_, err = f.svc.CreateUser(context.Background(), acme.ID, domain.CreateUserRequest{Email: "b@acme.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, domain.ErrUserLimitReached)
}

func TestLastAdminCannotBeDemoted(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	admin := f.user(t, acme.ID, "a@acme.com", "admin")

	role := "user"
	principal := &domain.Principal{UserID: admin.ID, OrgID: acme.ID}
	_, err := f.svc.UpdateUser(context.Background(), principal, admin.ID, domain.UpdateUserRequest{Role: &role})
	assert.ErrorIs(t, err, domain.ErrLastAdmin)

	assert.ErrorIs(t, f.svc.DeleteUser(context.Background(), principal, admin.ID), domain.ErrCannotDeleteSelf)
}

func TestUsersAreInvisibleAcrossOrganizations(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	globex := f.org(t, "globex")
	user := f.user(t, acme.ID, "a@acme.com", "")

	_, err := f.svc.GetUser(context.Background(), globex.ID, user.ID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	listed, err := f.svc.ListUsers(context.Background(), globex.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "")
	res := f.login(t, "a@acme.com", "")
	principal, err := f.svc.Authorize(context.Background(), res.Token)
	require.NoError(t, err)

	err = f.svc.ChangePassword(context.Background(), principal, "bad-current", "another-pass")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	require.NoError(t, f.svc.ChangePassword(context.Background(), principal, "correct-horse", "another-pass"))
	_, err = f.svc.Authorize(context.Background(), res.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.svc.Login(context.Background(), domain.LoginRequest{Email: "a@acme.com", Password: "another-pass"})
	assert.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "")
	res := f.login(t, "a@acme.com", "")

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), acme.ID, "a@acme.com"))
	mail := f.mailer.last()
	assert.Equal(t, []string{"a@acme.com"}, mail.to)

	resetURL := mail.data["reset_url"].(string)
	require.True(t, strings.HasPrefix(resetURL, "https://crm.example.com/reset-password?token="))
	raw := strings.TrimPrefix(resetURL, "https://crm.example.com/reset-password?token=")

	require.NoError(t, f.svc.ResetPassword(context.Background(), raw, "brand-new-pass"))
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), raw, "brand-new-pass"), domain.ErrInvalidResetToken)

	_, err := f.svc.Authorize(context.Background(), res.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.Login(context.Background(), domain.LoginRequest{Email: "a@acme.com", Password: "brand-new-pass"})
	assert.NoError(t, err)
}

func TestPasswordResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")
	f.user(t, acme.ID, "a@acme.com", "")

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), acme.ID, "a@acme.com"))
	raw := strings.TrimPrefix(f.mailer.last().data["reset_url"].(string), "https://crm.example.com/reset-password?token=")

	f.clk.Advance(2 * time.Hour)
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), raw, "brand-new-pass"), domain.ErrInvalidResetToken)
}

func TestPasswordResetForUnknownEmailSendsNothing(t *testing.T) {
	f := newFixture(t)
	acme := f.org(t, "acme")

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), acme.ID, "ghost@acme.com"))
	assert.Empty(t, f.mailer.sent)
}
