// Package domain contains core types for the auth service.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/pkg/db"
)

// User is a member of exactly one organization.
type User struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID               uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:ux_users_org_email,priority:1" json:"org_id"`
	Email               string         `gorm:"type:text;not null;uniqueIndex:ux_users_org_email,priority:2" json:"email"`
	PasswordHash        string         `gorm:"type:text;not null" json:"-"`
	Name                string         `gorm:"type:text;not null" json:"name"`
	Role                string         `gorm:"type:text;not null" json:"role"`
	Permissions         db.StringArray `gorm:"not null" json:"permissions"`
	IsActive            bool           `gorm:"column:is_active;not null;default:true" json:"is_active"`
	DeletedAt           *time.Time     `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
	FailedLoginCount    int            `gorm:"column:failed_login_count;not null;default:0" json:"-"`
	LockedUntil         *time.Time     `gorm:"column:locked_until" json:"-"`
	LastLoginAt         *time.Time     `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	ResetTokenHash      *string        `gorm:"column:reset_token_hash;type:text;index" json:"-"`
	ResetTokenExpiresAt *time.Time     `gorm:"column:reset_token_expires_at" json:"-"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Live reports whether the user may sign in.
func (u User) Live() bool {
	return u.IsActive && u.DeletedAt == nil
}

func (u User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// PermissionSet interns the stored permissions.
func (u User) PermissionSet() authorization.PermissionSet {
	return authorization.PermissionsFromStored(u.Permissions)
}

// Session is the server-side record that makes a token usable. Only the
// sha256 of the token is stored.
type Session struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index"`
	OrgID      uuid.UUID `gorm:"type:uuid;not null;index"`
	TokenHash  string    `gorm:"column:token_hash;type:text;not null;uniqueIndex"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null;index"`
	IPAddress  string    `gorm:"column:ip_address;type:text"`
	UserAgent  string    `gorm:"column:user_agent;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }

// SessionIdentity is a live session joined with its user and organization.
type SessionIdentity struct {
	SessionID   uuid.UUID      `gorm:"column:session_id"`
	UserID      uuid.UUID      `gorm:"column:user_id"`
	OrgID       uuid.UUID      `gorm:"column:org_id"`
	OrgSlug     string         `gorm:"column:org_slug"`
	Email       string         `gorm:"column:email"`
	Name        string         `gorm:"column:name"`
	Role        string         `gorm:"column:role"`
	Permissions db.StringArray `gorm:"column:permissions"`
	LastSeenAt  time.Time      `gorm:"column:last_seen_at"`
	ExpiresAt   time.Time      `gorm:"column:expires_at"`
}

// SessionView is returned to clients without exposing token values.
type SessionView struct {
	ID         uuid.UUID `json:"id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

// LoginCandidate is one row of the cross-tenant login-by-email lookup.
type LoginCandidate struct {
	UserID  uuid.UUID `gorm:"column:user_id"`
	OrgID   uuid.UUID `gorm:"column:org_id"`
	OrgSlug string    `gorm:"column:org_slug"`
}

// ResetCandidate is the owner of a password reset token.
type ResetCandidate struct {
	UserID uuid.UUID `gorm:"column:user_id"`
	OrgID  uuid.UUID `gorm:"column:org_id"`
}
