package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/internal/organization/resolver"
)

type SignupRequest struct {
	OrganizationName string `json:"organization_name"`
	Slug             string `json:"slug"`
	Domain           string `json:"domain"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	Name             string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// Organization is an optional slug or id for emails registered in
	// several organizations.
	Organization string `json:"organization"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Signup bootstraps a new organization with its first admin and signs the
// admin in.
func (s *Server) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	created, err := s.organizationSvc.Bootstrap(ctx, orgdomain.BootstrapRequest{
		Name:          req.OrganizationName,
		Slug:          req.Slug,
		Domain:        req.Domain,
		AdminEmail:    req.Email,
		AdminPassword: req.Password,
		AdminName:     req.Name,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.authsvc.Login(ctx, authdomain.LoginRequest{
		Email:      created.AdminEmail,
		Password:   req.Password,
		OrgHint:    created.Organization.ID.String(),
		ClientInfo: clientInfo(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	hint := strings.TrimSpace(req.Organization)
	if hint == "" {
		// A tenant host or organization header narrows the login when the
		// body names no organization.
		if org, _, err := s.resolver.Resolve(c.Request.Context(), resolver.HintsFromRequest(c.Request)); err == nil {
			hint = org.ID.String()
		}
	}

	result, err := s.authsvc.Login(c.Request.Context(), authdomain.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		OrgHint:    hint,
		ClientInfo: clientInfo(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) Logout(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authsvc.Logout(c.Request.Context(), principal, tokenFromContext(c)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) LogoutAll(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	revoked, err := s.authsvc.LogoutAll(c.Request.Context(), principal)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions_revoked": revoked})
}

func (s *Server) Refresh(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.authsvc.Refresh(c.Request.Context(), principal, tokenFromContext(c), clientInfo(c))
	if err != nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SessionStatus reports whether the caller holds a valid session. Anonymous
// callers get the organization their host or headers point at, if any.
func (s *Server) SessionStatus(c *gin.Context) {
	if principal, ok := principalFromContext(c); ok {
		c.JSON(http.StatusOK, gin.H{
			"authenticated":     true,
			"user_id":           principal.UserID,
			"organization_id":   principal.OrgID,
			"organization_slug": principal.OrgSlug,
			"role":              principal.Role.String(),
			"session_id":        principal.SessionID,
		})
		return
	}

	body := gin.H{"authenticated": false}
	if hints := resolver.HintsFromRequest(c.Request); !hints.Empty() {
		if org, _, err := s.resolver.Resolve(c.Request.Context(), hints); err == nil {
			body["organization"] = gin.H{"id": org.ID, "slug": org.Slug, "name": org.Name}
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) Me(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	user, err := s.authsvc.GetUser(c.Request.Context(), principal.OrgID, principal.UserID)
	if err != nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	org, err := s.organizationSvc.Get(c.Request.Context(), principal.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":         user,
		"organization": org,
		"permissions":  principal.Permissions.Strings(),
	})
}

func (s *Server) ListSessions(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sessions, err := s.authsvc.ListSessions(c.Request.Context(), principal)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) ChangePassword(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if req.CurrentPassword == "" {
		AbortWithError(c, newValidationError("current_password", "required", "current password is required"))
		return
	}
	if req.NewPassword == "" {
		AbortWithError(c, newValidationError("new_password", "required", "new password is required"))
		return
	}
	if req.CurrentPassword == req.NewPassword {
		AbortWithError(c, newValidationError("new_password", "must_differ", "new password must be different"))
		return
	}

	if err := s.authsvc.ChangePassword(c.Request.Context(), principal, req.CurrentPassword, req.NewPassword); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ForgotPassword always answers 202 so callers cannot probe which emails
// exist in the organization.
func (s *Server) ForgotPassword(c *gin.Context) {
	org, ok := resolvedOrgFromContext(c)
	if !ok {
		AbortWithError(c, orgdomain.ErrOrganizationNotFound)
		return
	}

	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	_ = s.authsvc.RequestPasswordReset(c.Request.Context(), org.ID, req.Email)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, newValidationError("token", "required", "token is required"))
		return
	}

	if err := s.authsvc.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func clientInfo(c *gin.Context) authdomain.ClientInfo {
	return authdomain.ClientInfo{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
