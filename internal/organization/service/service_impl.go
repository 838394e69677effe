package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/auth/password"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/internal/organization/event"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultPlan = "free"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Users   authdomain.UserRepository
	Hasher  *password.Multi
	Tenancy *config.TenancyPolicyHolder

	AuditSvc   auditdomain.Service       `optional:"true"`
	Authorizer *authorization.Authorizer `optional:"true"`
	Publisher  event.EventPublisher      `optional:"true"`
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	users      authdomain.UserRepository
	hasher     *password.Multi
	tenancy    *config.TenancyPolicyHolder
	auditSvc   auditdomain.Service
	authorizer *authorization.Authorizer
	publisher  event.EventPublisher
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &service{
		db:         p.DB,
		log:        p.Log.Named("organization.service"),
		clock:      clk,
		repo:       p.Repo,
		users:      p.Users,
		hasher:     p.Hasher,
		tenancy:    p.Tenancy,
		auditSvc:   p.AuditSvc,
		authorizer: p.Authorizer,
		publisher:  p.Publisher,
	}
}

// Bootstrap creates an organization together with its first admin. Both rows
// commit or neither does.
func (s *service) Bootstrap(ctx context.Context, req domain.BootstrapRequest) (*domain.BootstrapResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	orgSlug, err := s.normalizeSlug(req.Slug, name)
	if err != nil {
		return nil, err
	}
	orgDomain, err := normalizeDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	if req.MaxUsers < 0 {
		return nil, domain.ErrInvalidMaxUsers
	}

	email, err := authdomain.NormalizeEmail(req.AdminEmail)
	if err != nil {
		return nil, err
	}
	if err := authdomain.ValidatePassword(req.AdminPassword); err != nil {
		return nil, err
	}
	hashed, err := s.hasher.Hash(req.AdminPassword)
	if err != nil {
		return nil, err
	}

	adminName := strings.TrimSpace(req.AdminName)
	if adminName == "" {
		adminName = authdomain.DefaultName(email)
	}
	plan := strings.TrimSpace(req.Plan)
	if plan == "" {
		plan = defaultPlan
	}

	now := s.clock.Now().UTC()
	org := &domain.Organization{
		ID:           uuid.New(),
		Name:         name,
		Slug:         orgSlug,
		Domain:       orgDomain,
		Settings:     datatypes.JSONMap{},
		Plan:         plan,
		PlanMetadata: datatypes.JSONMap{},
		MaxUsers:     req.MaxUsers,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	admin := &authdomain.User{
		ID:           uuid.New(),
		OrgID:        org.ID,
		Email:        email,
		PasswordHash: hashed,
		Name:         adminName,
		Role:         authorization.RoleAdmin.String(),
		Permissions:  db.StringArray(authorization.DefaultPermissions(authorization.RoleAdmin).Strings()),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, org); err != nil {
			return err
		}
		return rls.WithTenant(ctx, tx, org.ID, func(scope *rls.Scope) error {
			return s.users.Create(ctx, scope, admin)
		})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, s.duplicateError(ctx, org)
		}
		return nil, err
	}

	s.audit(ctx, org.ID, admin.ID.String(), auditdomain.ActionOrgBootstrapped, map[string]any{
		"slug":        org.Slug,
		"plan":        org.Plan,
		"admin_email": admin.Email,
	})

	return &domain.BootstrapResult{
		Organization: org,
		AdminUserID:  admin.ID,
		AdminEmail:   admin.Email,
	}, nil
}

func (s *service) Get(ctx context.Context, orgID uuid.UUID) (*domain.Organization, error) {
	if orgID == uuid.Nil {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.FindByID(ctx, orgID)
}

func (s *service) Update(ctx context.Context, orgID uuid.UUID, actorID uuid.UUID, req domain.UpdateRequest) (*domain.Organization, error) {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, domain.ErrOrganizationInactive
	}

	fields := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		fields["name"] = name
	}
	if req.Domain != nil {
		normalized, err := normalizeDomain(*req.Domain)
		if err != nil {
			return nil, err
		}
		fields["domain"] = normalized
	}
	if req.Settings != nil {
		fields["settings"] = datatypes.JSONMap(req.Settings)
	}
	if req.Plan != nil {
		plan := strings.TrimSpace(*req.Plan)
		if plan == "" {
			plan = defaultPlan
		}
		fields["plan"] = plan
	}
	if req.PlanMetadata != nil {
		fields["plan_metadata"] = datatypes.JSONMap(req.PlanMetadata)
	}
	if req.MaxUsers != nil {
		if *req.MaxUsers < 0 {
			return nil, domain.ErrInvalidMaxUsers
		}
		fields["max_users"] = *req.MaxUsers
	}
	if len(fields) == 0 {
		return org, nil
	}

	changed := make([]string, 0, len(fields))
	for key := range fields {
		changed = append(changed, key)
	}
	fields["updated_at"] = s.clock.Now().UTC()

	if err := s.repo.Update(ctx, orgID, fields); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateDomain
		}
		return nil, err
	}

	s.audit(ctx, orgID, actorID.String(), auditdomain.ActionOrgUpdated, map[string]any{
		"fields": changed,
	})
	return s.repo.FindByID(ctx, orgID)
}

// Deactivate switches the organization off for good. Every member loses
// access, sessions are dropped and API keys stop verifying.
func (s *service) Deactivate(ctx context.Context, orgID uuid.UUID, actorID uuid.UUID, confirm string) (*domain.Organization, error) {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, domain.ErrOrganizationInactive
	}
	if strings.TrimSpace(confirm) != org.Slug {
		return nil, domain.ErrConfirmationMismatch
	}

	now := s.clock.Now().UTC()
	var cascade domain.TenantCascade
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := rls.WithTenant(ctx, tx, orgID, func(scope *rls.Scope) error {
			var err error
			cascade, err = s.repo.DeactivateTenantData(ctx, scope, now)
			return err
		})
		if err != nil {
			return err
		}
		return s.repo.WithTx(tx).Update(ctx, orgID, map[string]any{
			"is_active":      false,
			"deactivated_at": now,
			"updated_at":     now,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.authorizer != nil {
		if err := s.authorizer.DropOrganization(orgID); err != nil {
			s.log.Warn("failed to drop organization role grants", zap.String("org_id", orgID.String()), zap.Error(err))
		}
	}

	s.audit(ctx, orgID, actorID.String(), auditdomain.ActionOrgDeactivated, map[string]any{
		"users_deactivated":    cascade.Users,
		"sessions_revoked":     cascade.Sessions,
		"api_keys_deactivated": cascade.APIKeys,
	})
	event.Emit(ctx, s.publisher, s.log, event.OrganizationDeactivatedTopic, event.OrganizationDeactivated{
		OrganizationID: orgID.String(),
		DeactivatedAt:  now,
	})

	org.IsActive = false
	org.DeactivatedAt = &now
	org.UpdatedAt = now
	return org, nil
}

// normalizeSlug derives the slug from name when none is given. Underscores
// are rejected because they separate the parts of an API key.
func (s *service) normalizeSlug(raw, name string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		value = strings.ReplaceAll(slug.Make(name), "_", "-")
	}
	if value == "" || strings.Contains(value, "_") || !slug.IsSlug(value) {
		return "", domain.ErrInvalidSlug
	}
	if s.tenancy != nil && s.tenancy.Get().IsReserved(value) {
		return "", domain.ErrReservedSlug
	}
	return value, nil
}

func (s *service) duplicateError(ctx context.Context, org *domain.Organization) error {
	if _, err := s.repo.FindBySlug(ctx, org.Slug); err == nil {
		return domain.ErrDuplicateSlug
	}
	if org.Domain != nil {
		if _, err := s.repo.FindByDomain(ctx, *org.Domain); err == nil {
			return domain.ErrDuplicateDomain
		}
	}
	return domain.ErrDuplicateSlug
}

func (s *service) audit(ctx context.Context, orgID uuid.UUID, actorID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := orgID.String()
	var actor *string
	if actorID != "" && actorID != uuid.Nil.String() {
		actor = &actorID
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), actor, action, "organization", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// normalizeDomain lowercases a custom domain and checks it is a plain host
// name. An empty value clears the domain.
func normalizeDomain(raw string) (*string, error) {
	value := strings.Trim(strings.ToLower(strings.TrimSpace(raw)), ".")
	if value == "" {
		return nil, nil
	}
	labels := strings.Split(value, ".")
	if len(labels) < 2 {
		return nil, domain.ErrInvalidDomain
	}
	for _, label := range labels {
		if len(label) > 63 || strings.Contains(label, "_") || !slug.IsSlug(label) {
			return nil, domain.ErrInvalidDomain
		}
	}
	return &value, nil
}
