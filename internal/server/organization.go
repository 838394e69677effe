package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
)

type updateOrganizationRequest struct {
	Name         *string        `json:"name"`
	Domain       *string        `json:"domain"`
	Settings     map[string]any `json:"settings"`
	Plan         *string        `json:"plan"`
	PlanMetadata map[string]any `json:"plan_metadata"`
	MaxUsers     *int           `json:"max_users"`
}

type deactivateOrganizationRequest struct {
	Confirm string `json:"confirm"`
}

func (s *Server) GetOrganization(c *gin.Context) {
	orgID, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	org, err := s.organizationSvc.Get(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}

func (s *Server) UpdateOrganization(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req updateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.organizationSvc.Update(c.Request.Context(), principal.OrgID, principal.UserID, orgdomain.UpdateRequest{
		Name:         req.Name,
		Domain:       req.Domain,
		Settings:     req.Settings,
		Plan:         req.Plan,
		PlanMetadata: req.PlanMetadata,
		MaxUsers:     req.MaxUsers,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}

// DeactivateOrganization requires the organization's slug as confirmation.
// Every member loses its sessions and the organization's API keys stop
// working.
func (s *Server) DeactivateOrganization(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req deactivateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.organizationSvc.Deactivate(c.Request.Context(), principal.OrgID, principal.UserID, req.Confirm)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}
