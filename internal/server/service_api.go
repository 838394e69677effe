package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Whoami describes the API key a service caller authenticated with.
func (s *Server) Whoami(c *gin.Context) {
	key, ok := apiKeyFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key_id":          key.KeyID,
		"name":                key.Name,
		"organization_id":     key.OrgID,
		"organization_slug":   key.OrgSlug,
		"permissions":         key.Permissions.Strings(),
		"rate_limit_per_hour": key.RateLimitPerHour,
	})
}

func (s *Server) APIKeyRateLimit(c *gin.Context) {
	key, ok := apiKeyFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	status, err := s.apiKeySvc.CheckRateLimit(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	c.JSON(http.StatusOK, status)
}
