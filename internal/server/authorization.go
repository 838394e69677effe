package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/crmauth/internal/authorization"
)

// RequireRole lets the request through when the principal holds one of roles.
func (s *Server) RequireRole(roles ...authorization.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !principal.HasRole(roles...) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequirePermission passes admins, principals granted perm explicitly, and
// roles the organization's policy grants perm to.
func (s *Server) RequirePermission(perm authorization.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !s.allowed(principal.OrgID, principal.Role, principal.Permissions, perm) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}
