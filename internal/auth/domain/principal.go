package domain

import (
	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/authorization"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID      uuid.UUID                   `json:"user_id"`
	OrgID       uuid.UUID                   `json:"org_id"`
	OrgSlug     string                      `json:"org_slug"`
	Email       string                      `json:"email"`
	Name        string                      `json:"name"`
	Role        authorization.Role          `json:"role"`
	Permissions authorization.PermissionSet `json:"-"`
	SessionID   uuid.UUID                   `json:"session_id"`
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == authorization.RoleAdmin
}

// HasRole reports whether the principal's role is one of roles.
func (p *Principal) HasRole(roles ...authorization.Role) bool {
	if p == nil {
		return false
	}
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}
