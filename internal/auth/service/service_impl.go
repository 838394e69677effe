package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/auth/password"
	"github.com/smallbiznis/crmauth/internal/auth/token"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/internal/organization/event"
	"github.com/smallbiznis/crmauth/internal/providers/email"
	"github.com/smallbiznis/crmauth/internal/ratelimit"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dummyPassword = "crmauth-timing-equalizer"
	touchInterval = time.Minute
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	Users    domain.UserRepository
	Sessions domain.SessionRepository
	Orgs     orgdomain.Repository
	Hasher   *password.Multi
	Tokens   *token.Issuer

	AuditSvc  auditdomain.Service     `optional:"true"`
	Metrics   *metrics.AuthMetrics    `optional:"true"`
	Limiter   *ratelimit.LoginLimiter `optional:"true"`
	Mailer    email.Provider          `optional:"true"`
	Publisher event.EventPublisher    `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	users    domain.UserRepository
	sessions domain.SessionRepository
	orgs     orgdomain.Repository
	hasher   *password.Multi
	tokens   *token.Issuer
	auditSvc auditdomain.Service
	metrics  *metrics.AuthMetrics
	limiter  *ratelimit.LoginLimiter
	mailer   email.Provider
	events   event.EventPublisher

	dummyHash       string
	maxFailed       int
	lockoutDuration time.Duration
	resetTTL        time.Duration
	publicURL       string
}

func New(p Params) (domain.Service, error) {
	return NewService(p)
}

// NewService returns the concrete service; the sweeper needs it directly.
func NewService(p Params) (*Service, error) {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}

	dummyHash, err := p.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:              p.DB,
		log:             p.Log.Named("auth.service"),
		clock:           clk,
		users:           p.Users,
		sessions:        p.Sessions,
		orgs:            p.Orgs,
		hasher:          p.Hasher,
		tokens:          p.Tokens,
		auditSvc:        p.AuditSvc,
		metrics:         p.Metrics,
		limiter:         p.Limiter,
		mailer:          p.Mailer,
		events:          p.Publisher,
		dummyHash:       dummyHash,
		maxFailed:       p.Config.Auth.MaxFailedLogins,
		lockoutDuration: p.Config.Auth.LockoutDuration,
		resetTTL:        p.Config.Auth.ResetTokenTTL,
		publicURL:       p.Config.PublicURL,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Service) CreateUser(ctx context.Context, orgID uuid.UUID, req domain.CreateUserRequest) (*domain.User, error) {
	if orgID == uuid.Nil {
		return nil, orgdomain.ErrInvalidOrganization
	}

	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	role := authorization.RoleUser
	if strings.TrimSpace(req.Role) != "" {
		if role, err = authorization.ParseRole(req.Role); err != nil {
			return nil, err
		}
	}

	perms := authorization.DefaultPermissions(role)
	if req.Permissions != nil {
		if perms, err = authorization.ParsePermissions(req.Permissions); err != nil {
			return nil, err
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = domain.DefaultName(email)
	}

	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, orgdomain.ErrOrganizationInactive
	}

	hashed, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		user        *domain.User
		reactivated bool
	)
	err = rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		existing, err := s.users.FindByEmail(ctx, scope, email)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			return err
		}
		// Deactivated and deleted rows are brought back in place.
		if existing != nil && existing.Live() {
			return domain.ErrDuplicateEmail
		}

		if err := s.checkUserLimit(ctx, scope, org); err != nil {
			return err
		}

		if existing != nil {
			reactivated = true
			if err := s.users.Update(ctx, scope, existing.ID, map[string]any{
				"password_hash":          hashed,
				"name":                   name,
				"role":                   role.String(),
				"permissions":            db.StringArray(perms.Strings()),
				"is_active":              true,
				"deleted_at":             nil,
				"failed_login_count":     0,
				"locked_until":           nil,
				"reset_token_hash":       nil,
				"reset_token_expires_at": nil,
				"updated_at":             now,
			}); err != nil {
				return err
			}
			user, err = s.users.FindByID(ctx, scope, existing.ID)
			return err
		}

		user = &domain.User{
			ID:           uuid.New(),
			OrgID:        orgID,
			Email:        email,
			PasswordHash: hashed,
			Name:         name,
			Role:         role.String(),
			Permissions:  db.StringArray(perms.Strings()),
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.Create(ctx, scope, user); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateEmail
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	action := auditdomain.ActionUserCreated
	if reactivated {
		action = auditdomain.ActionUserReactivated
	}
	s.audit(ctx, orgID, "", "", action, "user", user.ID.String(), map[string]any{
		"email": user.Email,
		"role":  user.Role,
	})
	return user, nil
}

func (s *Service) checkUserLimit(ctx context.Context, scope *rls.Scope, org *orgdomain.Organization) error {
	if !org.HasUserLimit() {
		return nil
	}
	active, err := s.users.CountActive(ctx, scope)
	if err != nil {
		return err
	}
	if active >= int64(org.MaxUsers) {
		return domain.ErrUserLimitReached
	}
	return nil
}

func (s *Service) UpdateUser(ctx context.Context, principal *domain.Principal, userID uuid.UUID, req domain.UpdateUserRequest) (*domain.User, error) {
	if principal == nil {
		return nil, domain.ErrUnauthenticated
	}

	fields := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		fields["name"] = name
	}

	var newRole authorization.Role
	if req.Role != nil {
		role, err := authorization.ParseRole(*req.Role)
		if err != nil {
			return nil, err
		}
		newRole = role
		fields["role"] = role.String()
	}
	if req.Permissions != nil {
		perms, err := authorization.ParsePermissions(req.Permissions)
		if err != nil {
			return nil, err
		}
		fields["permissions"] = db.StringArray(perms.Strings())
	}
	if req.IsActive != nil {
		fields["is_active"] = *req.IsActive
	}
	if len(fields) == 0 {
		return s.GetUser(ctx, principal.OrgID, userID)
	}

	var org *orgdomain.Organization
	if req.IsActive != nil && *req.IsActive {
		var err error
		if org, err = s.orgs.FindByID(ctx, principal.OrgID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	fields["updated_at"] = now

	var (
		user    *domain.User
		revoked int64
	)
	err := rls.WithTenant(ctx, s.db, principal.OrgID, func(scope *rls.Scope) error {
		target, err := s.users.FindByID(ctx, scope, userID)
		if err != nil {
			return err
		}
		if target.DeletedAt != nil {
			return domain.ErrUserNotFound
		}

		demoted := req.Role != nil && newRole != authorization.RoleAdmin
		deactivated := req.IsActive != nil && !*req.IsActive
		if target.Role == string(authorization.RoleAdmin) && target.IsActive && (demoted || deactivated) {
			admins, err := s.users.CountActiveAdmins(ctx, scope)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return domain.ErrLastAdmin
			}
		}

		if org != nil && !target.IsActive {
			if err := s.checkUserLimit(ctx, scope, org); err != nil {
				return err
			}
		}

		if err := s.users.Update(ctx, scope, userID, fields); err != nil {
			return err
		}
		if deactivated {
			if revoked, err = s.sessions.DeleteByUser(ctx, scope, userID); err != nil {
				return err
			}
		}
		user, err = s.users.FindByID(ctx, scope, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	changed := make([]string, 0, len(fields))
	for key := range fields {
		if key != "updated_at" {
			changed = append(changed, key)
		}
	}
	if req.IsActive != nil && !*req.IsActive {
		s.sessionsRevoked(ctx, principal.OrgID, userID, "user_deactivated")
	}
	s.audit(ctx, principal.OrgID, string(auditdomain.ActorTypeUser), principal.UserID.String(),
		auditdomain.ActionUserUpdated, "user", userID.String(), map[string]any{
			"fields":           changed,
			"sessions_revoked": revoked,
		})
	return user, nil
}

// DeleteUser soft deletes the user and revokes every session it holds.
func (s *Service) DeleteUser(ctx context.Context, principal *domain.Principal, userID uuid.UUID) error {
	if principal == nil {
		return domain.ErrUnauthenticated
	}
	if principal.UserID == userID {
		return domain.ErrCannotDeleteSelf
	}

	now := s.now()
	var revoked int64
	err := rls.WithTenant(ctx, s.db, principal.OrgID, func(scope *rls.Scope) error {
		target, err := s.users.FindByID(ctx, scope, userID)
		if err != nil {
			return err
		}
		if target.DeletedAt != nil {
			return domain.ErrUserNotFound
		}

		if target.Role == string(authorization.RoleAdmin) && target.IsActive {
			admins, err := s.users.CountActiveAdmins(ctx, scope)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return domain.ErrLastAdmin
			}
		}

		if err := s.users.Update(ctx, scope, userID, map[string]any{
			"is_active":              false,
			"deleted_at":             now,
			"reset_token_hash":       nil,
			"reset_token_expires_at": nil,
			"updated_at":             now,
		}); err != nil {
			return err
		}
		revoked, err = s.sessions.DeleteByUser(ctx, scope, userID)
		return err
	})
	if err != nil {
		return err
	}

	s.sessionsRevoked(ctx, principal.OrgID, userID, "user_deleted")
	s.audit(ctx, principal.OrgID, string(auditdomain.ActorTypeUser), principal.UserID.String(),
		auditdomain.ActionUserDeleted, "user", userID.String(), map[string]any{
			"sessions_revoked": revoked,
		})
	return nil
}

func (s *Service) ListUsers(ctx context.Context, orgID uuid.UUID) ([]domain.User, error) {
	var users []domain.User
	err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		var err error
		users, err = s.users.List(ctx, scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Service) GetUser(ctx context.Context, orgID, userID uuid.UUID) (*domain.User, error) {
	var user *domain.User
	err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		var err error
		user, err = s.users.FindByID(ctx, scope, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if user.DeletedAt != nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

// audit records an entry and only logs failures. It must run after any
// transaction the caller opened has finished.
func (s *Service) audit(ctx context.Context, orgID uuid.UUID, actorType, actorID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var orgPtr *uuid.UUID
	if orgID != uuid.Nil {
		orgPtr = &orgID
	}
	var actorPtr, targetPtr *string
	if actorID != "" {
		actorPtr = &actorID
	}
	if targetID != "" {
		targetPtr = &targetID
	}
	if err := s.auditSvc.AuditLog(ctx, orgPtr, actorType, actorPtr, action, targetType, targetPtr, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// sessionsRevoked tells live connections of userID that its sessions are gone.
func (s *Service) sessionsRevoked(ctx context.Context, orgID, userID uuid.UUID, reason string) {
	event.Emit(ctx, s.events, s.log, event.UserSessionsRevokedTopic, event.UserSessionsRevoked{
		OrganizationID: orgID.String(),
		UserID:         userID.String(),
		Reason:         reason,
	})
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
