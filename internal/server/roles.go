package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/authorization"
)

func (s *Server) GetRolePermissions(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	role, err := authorization.ParseRole(c.Param("role"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	perms, err := s.authorizer.RolePermissions(principal.OrgID, role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"role":        role,
		"permissions": perms.Strings(),
	})
}

func (s *Server) GrantRolePermission(c *gin.Context) {
	s.changeRolePermission(c, s.authorizer.GrantRole)
}

func (s *Server) RevokeRolePermission(c *gin.Context) {
	s.changeRolePermission(c, s.authorizer.RevokeRole)
}

type rolePermissionChange func(ctx context.Context, orgID uuid.UUID, actorID string, role authorization.Role, perm authorization.Permission) error

func (s *Server) changeRolePermission(c *gin.Context, change rolePermissionChange) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	role, err := authorization.ParseRole(c.Param("role"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	perm, err := authorization.ParsePermission(strings.TrimSpace(c.Param("permission")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := change(c.Request.Context(), principal.OrgID, principal.UserID.String(), role, perm); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
