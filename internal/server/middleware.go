package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/auditcontext"
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	obscontext "github.com/smallbiznis/crmauth/internal/observability/context"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/internal/organization/resolver"
	"github.com/smallbiznis/crmauth/internal/orgcontext"
)

const (
	contextPrincipalKey    = "principal"
	contextTokenKey        = "auth_token"
	contextOrgIDKey        = "org_id"
	contextOrgSourceKey    = "org_source"
	contextResolvedOrgKey  = "resolved_org"
	contextAPIKeyKey       = "api_key"
	authorizationHeader    = "Authorization"
	bearerScheme           = "Bearer"
	resolvedOrgSourceToken = "token"
)

// bearerToken extracts the credential of an "Authorization: Bearer" header.
func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if header == "" {
		return "", false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], bearerScheme) || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Authenticated requires a valid session token. Every failure, including a
// store error while checking it, ends in the same 401.
func (s *Server) Authenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok || apikeydomain.LooksLikeKey(raw, s.cfg.APIKey.Prefix) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.authsvc.Authorize(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		s.attachPrincipal(c, principal, raw)
		c.Next()
	}
}

// OptionalAuth attaches the principal when a valid token is present and
// otherwise lets the request through untouched.
func (s *Server) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if ok && !apikeydomain.LooksLikeKey(raw, s.cfg.APIKey.Prefix) {
			if principal, err := s.authsvc.Authorize(c.Request.Context(), raw); err == nil {
				s.attachPrincipal(c, principal, raw)
			}
		}
		c.Next()
	}
}

func (s *Server) attachPrincipal(c *gin.Context, principal *authdomain.Principal, raw string) {
	c.Set(contextPrincipalKey, principal)
	c.Set(contextTokenKey, raw)
	c.Set(contextOrgIDKey, principal.OrgID)
	if _, exists := c.Get(contextOrgSourceKey); !exists {
		c.Set(contextOrgSourceKey, resolvedOrgSourceToken)
	}

	ctx := c.Request.Context()
	ctx = orgcontext.WithOrgID(ctx, principal.OrgID)
	ctx = obscontext.WithOrgID(ctx, principal.OrgID.String())
	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeUser), principal.UserID.String())
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeUser), principal.UserID.String())
	c.Request = c.Request.WithContext(ctx)
}

func principalFromContext(c *gin.Context) (*authdomain.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*authdomain.Principal)
	return principal, ok && principal != nil
}

func tokenFromContext(c *gin.Context) string {
	return c.GetString(contextTokenKey)
}

// RequireOrganization rejects requests that reached it without a tenant.
func (s *Server) RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := orgIDFromContext(c); !ok {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func orgIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(contextOrgIDKey)
	if !ok {
		return uuid.Nil, false
	}
	orgID, ok := value.(uuid.UUID)
	return orgID, ok && orgID != uuid.Nil
}

// ValidateOrganizationContext rejects a request whose host or organization
// headers point at a different organization than its token. Requests
// without any hint pass.
func (s *Server) ValidateOrganizationContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.checkOrganizationHints(c, principal.OrgID, principal.OrgSlug); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// ValidateAPIKeyOrganizationContext is ValidateOrganizationContext for
// requests authenticated by an API key.
func (s *Server) ValidateAPIKeyOrganizationContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := apiKeyFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.checkOrganizationHints(c, key.OrgID, key.OrgSlug); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// checkOrganizationHints compares every hint on the request with the
// organization the credential belongs to.
func (s *Server) checkOrganizationHints(c *gin.Context, orgID uuid.UUID, orgSlug string) error {
	hints := resolver.HintsFromRequest(c.Request)
	if hints.Empty() {
		return nil
	}

	if hints.ID != "" {
		hinted, err := uuid.Parse(hints.ID)
		if err != nil || hinted != orgID {
			return ErrForbidden
		}
	}
	if hints.Slug != "" && hints.Slug != orgSlug {
		return ErrForbidden
	}

	if label, ok := s.resolver.SubdomainLabel(hints.Host); ok {
		if label != orgSlug {
			return ErrForbidden
		}
	} else if hints.Host != "" {
		org, _, err := s.resolver.Resolve(c.Request.Context(), resolver.Hints{Host: hints.Host})
		switch {
		case err == nil && org.ID != orgID:
			return ErrForbidden
		case err != nil && !isOrganizationNotFound(err):
			return ErrForbidden
		}
	}
	return nil
}

// ResolveOrganization resolves the tenant from the request alone and fails
// with 400 before any authentication runs.
func (s *Server) ResolveOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		org, source, err := s.resolver.Resolve(c.Request.Context(), resolver.HintsFromRequest(c.Request))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextResolvedOrgKey, org)
		c.Set(contextOrgIDKey, org.ID)
		c.Set(contextOrgSourceKey, string(source))

		ctx := orgcontext.WithOrgID(c.Request.Context(), org.ID)
		ctx = obscontext.WithOrgID(ctx, org.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func resolvedOrgFromContext(c *gin.Context) (*orgdomain.Organization, bool) {
	value, ok := c.Get(contextResolvedOrgKey)
	if !ok {
		return nil, false
	}
	org, ok := value.(*orgdomain.Organization)
	return org, ok && org != nil
}

// TenantScope copies the organization chosen by earlier middleware into the
// request context, where services pick it up to open their tenant
// transactions.
func (s *Server) TenantScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := orgIDFromContext(c)
		if !ok {
			AbortWithError(c, ErrForbidden)
			return
		}
		if current, ok := orgcontext.OrgIDFromContext(c.Request.Context()); !ok || current != orgID {
			c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), orgID))
		}
		c.Next()
	}
}

// tenantID is the organization TenantScope placed on the request.
func tenantID(c *gin.Context) (uuid.UUID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == uuid.Nil {
		return uuid.Nil, ErrForbidden
	}
	return orgID, nil
}

func isOrganizationNotFound(err error) bool {
	return errors.Is(err, orgdomain.ErrOrganizationNotFound)
}
