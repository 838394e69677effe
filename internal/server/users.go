package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
)

type createUserRequest struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type updateUserRequest struct {
	Name        *string  `json:"name"`
	Role        *string  `json:"role"`
	Permissions []string `json:"permissions"`
	IsActive    *bool    `json:"is_active"`
}

func (s *Server) ListUsers(c *gin.Context) {
	orgID, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	users, err := s.authsvc.ListUsers(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) CreateUser(c *gin.Context) {
	orgID, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.authsvc.CreateUser(c.Request.Context(), orgID, authdomain.CreateUserRequest{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.Name,
		Role:        req.Role,
		Permissions: req.Permissions,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (s *Server) GetUser(c *gin.Context) {
	orgID, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := uuidParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user, err := s.authsvc.GetUser(c.Request.Context(), orgID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (s *Server) UpdateUser(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	userID, err := uuidParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.authsvc.UpdateUser(c.Request.Context(), principal, userID, authdomain.UpdateUserRequest{
		Name:        req.Name,
		Role:        req.Role,
		Permissions: req.Permissions,
		IsActive:    req.IsActive,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (s *Server) DeleteUser(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	userID, err := uuidParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authsvc.DeleteUser(c.Request.Context(), principal, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// uuidParam parses a path id. A malformed id cannot name a row in this
// tenant, so it reads as not found.
func uuidParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}
