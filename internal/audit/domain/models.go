package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser      ActorType = "user"
	ActorTypeAPIKey    ActorType = "api_key"
	ActorTypeSystem    ActorType = "system"
	ActorTypeAnonymous ActorType = "anonymous"
)

const (
	ActionLoginSucceeded      = "auth.login.succeeded"
	ActionLoginFailed         = "auth.login.failed"
	ActionLogout              = "auth.logout"
	ActionLogoutAll           = "auth.logout_all"
	ActionPasswordChanged     = "auth.password.changed"
	ActionPasswordResetSent   = "auth.password.reset_requested"
	ActionPasswordReset       = "auth.password.reset"
	ActionCrossTenantLookup   = "rls.cross_tenant_lookup"
	ActionUserCreated         = "user.created"
	ActionUserReactivated     = "user.reactivated"
	ActionUserUpdated         = "user.updated"
	ActionUserDeleted         = "user.deleted"
	ActionAPIKeyCreated       = "api_key.created"
	ActionAPIKeyRotated       = "api_key.rotated"
	ActionAPIKeyDeactivated   = "api_key.deactivated"
	ActionAPIKeyDeleted       = "api_key.deleted"
	ActionOrgBootstrapped     = "organization.bootstrapped"
	ActionOrgUpdated          = "organization.updated"
	ActionOrgDeactivated      = "organization.deactivated"
	ActionRolePermissionGrant = "role.permission.granted"
	ActionRolePermissionDrop  = "role.permission.revoked"
)

// AuditLog is an append-only record of a security relevant action.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OrgID      *uuid.UUID        `gorm:"type:uuid;index" json:"org_id,omitempty"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID  *string           `gorm:"type:text" json:"request_id,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID      uuid.UUID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
