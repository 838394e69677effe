package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const rateLimitWindow = time.Hour

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	Clock  clock.Clock
	GenID  *snowflake.Node
	Repo   apikeydomain.Repository
	Orgs   orgdomain.Repository

	AuditSvc auditdomain.Service  `optional:"true"`
	Metrics  *metrics.AuthMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     apikeydomain.Repository
	orgs     orgdomain.Repository
	auditSvc auditdomain.Service
	metrics  *metrics.AuthMetrics
	prefix   string
}

func New(p Params) apikeydomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("apikey.service"),
		clock:    clk,
		genID:    p.GenID,
		repo:     p.Repo,
		orgs:     p.Orgs,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
		prefix:   p.Config.APIKey.Prefix,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Service) Create(ctx context.Context, orgID uuid.UUID, actorID string, req apikeydomain.CreateRequest) (*apikeydomain.CreateResult, error) {
	if orgID == uuid.Nil {
		return nil, apikeydomain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	perms, err := authorization.ParsePermissions(req.Permissions)
	if err != nil {
		return nil, err
	}
	allowed, err := normalizeAllowedIPs(req.AllowedIPs)
	if err != nil {
		return nil, err
	}
	if req.RateLimitPerHour < 0 {
		return nil, apikeydomain.ErrInvalidRateLimit
	}

	now := s.now()
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, apikeydomain.ErrInvalidExpiry
		}
		value := req.ExpiresAt.UTC()
		expiresAt = &value
	}

	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, orgdomain.ErrOrganizationInactive
	}

	raw, display, err := s.generate(org.Slug)
	if err != nil {
		return nil, err
	}

	var createdBy *string
	if actorID != "" {
		createdBy = &actorID
	}
	key := &apikeydomain.APIKey{
		ID:               uuid.New(),
		OrgID:            orgID,
		Name:             name,
		KeyHash:          apikeydomain.HashAPIKey(raw),
		KeyPrefix:        display,
		Permissions:      db.StringArray(perms.Strings()),
		AllowedIPs:       db.StringArray(allowed),
		RateLimitPerHour: req.RateLimitPerHour,
		IsActive:         true,
		ExpiresAt:        expiresAt,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		return s.repo.Insert(ctx, scope, key)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, orgID, actorID, auditdomain.ActionAPIKeyCreated, key.ID, map[string]any{
		"name":        key.Name,
		"key_prefix":  key.KeyPrefix,
		"permissions": key.Permissions,
	})
	return &apikeydomain.CreateResult{Key: raw, APIKey: key}, nil
}

// Verify authenticates a raw key. Only the organization named by the key's
// slug is consulted, and its candidate hashes are compared in constant time.
func (s *Service) Verify(ctx context.Context, rawKey, clientIP string) (*apikeydomain.Principal, error) {
	parsed, err := apikeydomain.ParseKey(rawKey, s.prefix)
	if err != nil {
		s.metrics.IncAPIKeyVerification(metrics.OutcomeInvalid)
		return nil, apikeydomain.ErrInvalidKey
	}

	org, err := s.orgs.FindBySlug(ctx, parsed.OrgSlug)
	if errors.Is(err, orgdomain.ErrOrganizationNotFound) || (err == nil && !org.IsActive) {
		s.metrics.IncAPIKeyVerification(metrics.OutcomeInvalid)
		return nil, apikeydomain.ErrInvalidKey
	}
	if err != nil {
		s.storeFailure("api_key_org", err)
		return nil, apikeydomain.ErrInvalidKey
	}

	presented := []byte(apikeydomain.HashAPIKey(strings.TrimSpace(rawKey)))
	now := s.now()

	var match *apikeydomain.APIKey
	err = rls.WithTenant(ctx, s.db, org.ID, func(scope *rls.Scope) error {
		keys, err := s.repo.ListUsable(ctx, scope, now)
		if err != nil {
			return err
		}
		for i := range keys {
			if subtle.ConstantTimeCompare(presented, []byte(keys[i].KeyHash)) == 1 {
				match = &keys[i]
			}
		}
		return nil
	})
	if err != nil {
		s.storeFailure("api_key_lookup", err)
		return nil, apikeydomain.ErrInvalidKey
	}
	if match == nil {
		s.metrics.IncAPIKeyVerification(metrics.OutcomeInvalid)
		return nil, apikeydomain.ErrInvalidKey
	}
	if !ipAllowed(match.AllowedIPs, clientIP) {
		s.metrics.IncAPIKeyVerification(metrics.OutcomeForbiddenIP)
		return nil, apikeydomain.ErrIPNotAllowed
	}

	s.metrics.IncAPIKeyVerification(metrics.OutcomeSuccess)
	return &apikeydomain.Principal{
		KeyID:            match.ID,
		OrgID:            org.ID,
		OrgSlug:          org.Slug,
		Name:             match.Name,
		Permissions:      match.PermissionSet(),
		RateLimitPerHour: match.RateLimitPerHour,
	}, nil
}

// CheckRateLimit counts the key's usage in the trailing hour. Checking and
// recording are separate calls, so concurrent requests may overshoot the
// ceiling slightly.
func (s *Service) CheckRateLimit(ctx context.Context, key *apikeydomain.Principal) (apikeydomain.RateLimitStatus, error) {
	now := s.now()
	if key == nil {
		return apikeydomain.RateLimitStatus{}, apikeydomain.ErrInvalidKey
	}
	if key.RateLimitPerHour <= 0 {
		return apikeydomain.RateLimitStatus{ResetAt: now}, nil
	}

	var (
		used   int64
		oldest *time.Time
	)
	err := rls.WithTenant(ctx, s.db, key.OrgID, func(scope *rls.Scope) error {
		var err error
		used, oldest, err = s.repo.UsageWindow(ctx, scope, key.KeyID, now.Add(-rateLimitWindow), now)
		return err
	})
	if err != nil {
		return apikeydomain.RateLimitStatus{}, err
	}

	limit := int64(key.RateLimitPerHour)
	status := apikeydomain.RateLimitStatus{
		Limit:    key.RateLimitPerHour,
		Used:     used,
		Exceeded: used >= limit,
		ResetAt:  now.Add(rateLimitWindow),
	}
	if used < limit {
		status.Remaining = limit - used
	}
	if oldest != nil {
		status.ResetAt = oldest.Add(rateLimitWindow)
	}
	if status.Exceeded {
		s.metrics.IncRateLimitDenied("api_key")
	}
	return status, nil
}

// RecordUsage stores a usage row and bumps the key's counters atomically.
func (s *Service) RecordUsage(ctx context.Context, key *apikeydomain.Principal, ev apikeydomain.UsageEvent) error {
	if key == nil {
		return apikeydomain.ErrInvalidKey
	}
	now := s.now()
	usage := &apikeydomain.Usage{
		ID:         s.genID.Generate(),
		APIKeyID:   key.KeyID,
		OrgID:      key.OrgID,
		Method:     ev.Method,
		Path:       ev.Path,
		StatusCode: ev.StatusCode,
		IPAddress:  ev.IPAddress,
		CreatedAt:  now,
	}
	return rls.WithTenant(ctx, s.db, key.OrgID, func(scope *rls.Scope) error {
		if err := s.repo.InsertUsage(ctx, scope, usage); err != nil {
			return err
		}
		return s.repo.MarkUsed(ctx, scope, key.KeyID, now, ev.IPAddress)
	})
}

func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		var err error
		keys, err = s.repo.List(ctx, scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Service) Get(ctx context.Context, orgID, keyID uuid.UUID) (*apikeydomain.APIKey, error) {
	var key *apikeydomain.APIKey
	err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		var err error
		key, err = s.repo.FindByID(ctx, scope, keyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Service) Deactivate(ctx context.Context, orgID, keyID uuid.UUID, actorID string) error {
	err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		return s.repo.Update(ctx, scope, keyID, map[string]any{
			"is_active":  false,
			"updated_at": s.now(),
		})
	})
	if err != nil {
		return err
	}
	s.audit(ctx, orgID, actorID, auditdomain.ActionAPIKeyDeactivated, keyID, nil)
	return nil
}

func (s *Service) Delete(ctx context.Context, orgID, keyID uuid.UUID, actorID string) error {
	err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		return s.repo.Delete(ctx, scope, keyID)
	})
	if err != nil {
		return err
	}
	s.audit(ctx, orgID, actorID, auditdomain.ActionAPIKeyDeleted, keyID, nil)
	return nil
}

// Rotate replaces the secret of an active key. The id, name, permissions and
// usage history are kept; the old secret stops verifying immediately.
func (s *Service) Rotate(ctx context.Context, orgID, keyID uuid.UUID, actorID string) (*apikeydomain.CreateResult, error) {
	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, orgdomain.ErrOrganizationInactive
	}

	raw, display, err := s.generate(org.Slug)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var key *apikeydomain.APIKey
	err = rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		current, err := s.repo.FindByID(ctx, scope, keyID)
		if err != nil {
			return err
		}
		if !current.IsActive || current.Expired(now) {
			return apikeydomain.ErrNotFound
		}
		if err := s.repo.Update(ctx, scope, keyID, map[string]any{
			"key_hash":   apikeydomain.HashAPIKey(raw),
			"key_prefix": display,
			"updated_at": now,
		}); err != nil {
			return err
		}
		key, err = s.repo.FindByID(ctx, scope, keyID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, orgID, actorID, auditdomain.ActionAPIKeyRotated, keyID, map[string]any{
		"key_prefix": display,
	})
	return &apikeydomain.CreateResult{Key: raw, APIKey: key}, nil
}

func (s *Service) generate(orgSlug string) (string, string, error) {
	secret := make([]byte, apikeydomain.SecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}
	raw, display := apikeydomain.FormatKey(s.prefix, orgSlug, hex.EncodeToString(secret))
	return raw, display, nil
}

func (s *Service) audit(ctx context.Context, orgID uuid.UUID, actorID, action string, keyID uuid.UUID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := keyID.String()
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), actor, action, "api_key", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) storeFailure(component string, err error) {
	s.metrics.IncAPIKeyVerification(metrics.OutcomeStoreFailure)
	reason := s.metrics.IncStoreError(component, err)
	s.log.Error("api key store failure",
		zap.String("component", component),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// normalizeAllowedIPs accepts addresses and CIDR blocks and stores them in
// canonical form.
func normalizeAllowedIPs(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, apikeydomain.ErrInvalidAllowedIP
			}
			out = append(out, prefix.Masked().String())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, apikeydomain.ErrInvalidAllowedIP
		}
		out = append(out, addr.Unmap().String())
	}
	return out, nil
}

func ipAllowed(allowed []string, clientIP string) bool {
	if len(allowed) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(clientIP))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range allowed {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(entry); err == nil && other.Unmap() == addr {
			return true
		}
	}
	return false
}
