package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	orgID, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	keys, err := s.apiKeySvc.List(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

// CreateAPIKey returns the raw key. It is never shown again.
func (s *Server) CreateAPIKey(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), principal.OrgID, principal.UserID.String(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetAPIKey(c *gin.Context) {
	orgID, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	keyID, err := uuidParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	key, err := s.apiKeySvc.Get(c.Request.Context(), orgID, keyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

// RotateAPIKey replaces the secret of a key in place; the old secret stops
// working at once.
func (s *Server) RotateAPIKey(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	keyID, err := uuidParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.apiKeySvc.Rotate(c.Request.Context(), principal.OrgID, keyID, principal.UserID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeactivateAPIKey(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	keyID, err := uuidParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.apiKeySvc.Deactivate(c.Request.Context(), principal.OrgID, keyID, principal.UserID.String()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) DeleteAPIKey(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	keyID, err := uuidParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.apiKeySvc.Delete(c.Request.Context(), principal.OrgID, keyID, principal.UserID.String()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
