package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
)

type Service interface {
	CreateUser(ctx context.Context, orgID uuid.UUID, req CreateUserRequest) (*User, error)
	Authenticate(ctx context.Context, req AuthenticateRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Authorize(ctx context.Context, rawToken string) (*Principal, error)
	Logout(ctx context.Context, principal *Principal, rawToken string) error
	LogoutAll(ctx context.Context, principal *Principal) (int64, error)
	Refresh(ctx context.Context, principal *Principal, rawToken string, client ClientInfo) (*LoginResult, error)
	ChangePassword(ctx context.Context, principal *Principal, current, next string) error
	UpdateUser(ctx context.Context, principal *Principal, userID uuid.UUID, req UpdateUserRequest) (*User, error)
	DeleteUser(ctx context.Context, principal *Principal, userID uuid.UUID) error
	ListUsers(ctx context.Context, orgID uuid.UUID) ([]User, error)
	GetUser(ctx context.Context, orgID, userID uuid.UUID) (*User, error)
	ListSessions(ctx context.Context, principal *Principal) ([]SessionView, error)
	RequestPasswordReset(ctx context.Context, orgID uuid.UUID, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	SweepExpiredSessions(ctx context.Context) (int64, error)
}

type CreateUserRequest struct {
	Email       string
	Password    string
	Name        string
	Role        string
	Permissions []string
}

// UpdateUserRequest carries the fields to change; nil fields are left alone.
type UpdateUserRequest struct {
	Name        *string
	Role        *string
	Permissions []string
	IsActive    *bool
}

type AuthenticateRequest struct {
	Email    string
	Password string
	// OrgHint is an organization slug or id narrowing the login.
	OrgHint   string
	IPAddress string
}

type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type LoginRequest struct {
	Email    string
	Password string
	OrgHint  string
	ClientInfo
}

type LoginResult struct {
	Token        string                  `json:"token"`
	ExpiresAt    time.Time               `json:"expires_at"`
	SessionID    uuid.UUID               `json:"session_id"`
	User         *User                   `json:"user"`
	Organization *orgdomain.Organization `json:"organization"`
}
