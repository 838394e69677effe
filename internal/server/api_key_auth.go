package server

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/auditcontext"
	"github.com/smallbiznis/crmauth/internal/authorization"
	obscontext "github.com/smallbiznis/crmauth/internal/observability/context"
	"github.com/smallbiznis/crmauth/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey             = "X-API-Key"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// APIKeyRequired authenticates service callers by API key. The key travels
// in "Authorization: Bearer" or X-API-Key, never in the query string, and
// names its organization itself. Usage is recorded once the handler has
// produced its final status.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := apiKeyFromRequest(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		key, err := s.apiKeySvc.Verify(ctx, raw, c.ClientIP())
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		status, err := s.apiKeySvc.CheckRateLimit(ctx, key)
		if err != nil {
			s.log.Warn("api key rate limit check failed", zap.String("api_key_id", key.KeyID.String()), zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if status.Limit > 0 {
			c.Header(HeaderRateLimitLimit, strconv.Itoa(status.Limit))
			c.Header(HeaderRateLimitRemaining, strconv.FormatInt(status.Remaining, 10))
		}
		if status.Exceeded {
			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(status.ResetAt.Sub(s.clock.Now()))))
			AbortWithError(c, ErrRateLimited)
			return
		}

		ctx = orgcontext.WithOrgID(ctx, key.OrgID)
		ctx = obscontext.WithOrgID(ctx, key.OrgID.String())
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeAPIKey), key.KeyID.String())
		ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeAPIKey), key.KeyID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAPIKeyKey, key)
		c.Set(contextOrgIDKey, key.OrgID)
		c.Set(contextOrgSourceKey, "api_key")

		c.Next()

		statusCode := c.Writer.Status()
		if lastErr := c.Errors.Last(); lastErr != nil && !c.Writer.Written() {
			statusCode, _ = mapError(lastErr.Err)
		}
		// The request context may already be cancelled once the client
		// has its response.
		usageCtx := context.WithoutCancel(c.Request.Context())
		if err := s.apiKeySvc.RecordUsage(usageCtx, key, apikeydomain.UsageEvent{
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			StatusCode: statusCode,
			IPAddress:  c.ClientIP(),
		}); err != nil {
			s.log.Warn("failed to record api key usage", zap.String("api_key_id", key.KeyID.String()), zap.Error(err))
		}
	}
}

// RequireAPIKeyPermission checks a permission of the key attached by
// APIKeyRequired.
func (s *Server) RequireAPIKeyPermission(perm authorization.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := apiKeyFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !key.HasPermission(perm) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func apiKeyFromRequest(c *gin.Context) (string, bool) {
	if raw, ok := bearerToken(c); ok {
		return raw, true
	}
	raw := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
	return raw, raw != ""
}

func apiKeyFromContext(c *gin.Context) (*apikeydomain.Principal, bool) {
	value, ok := c.Get(contextAPIKeyKey)
	if !ok {
		return nil, false
	}
	key, ok := value.(*apikeydomain.Principal)
	return key, ok && key != nil
}

func retryAfterSeconds(wait time.Duration) int {
	if wait <= 0 {
		return 1
	}
	return int(math.Ceil(wait.Seconds()))
}
