package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/pkg/db"
)

// APIKey stores hashed API credentials scoped to an organization. The raw key
// is never persisted.
type APIKey struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	Name             string         `gorm:"type:text;not null" json:"name"`
	KeyHash          string         `gorm:"column:key_hash;type:text;not null;uniqueIndex" json:"-"`
	KeyPrefix        string         `gorm:"column:key_prefix;type:text;not null" json:"key_prefix"`
	Permissions      db.StringArray `gorm:"not null" json:"permissions"`
	AllowedIPs       db.StringArray `gorm:"column:allowed_ips;not null" json:"allowed_ips"`
	RateLimitPerHour int            `gorm:"column:rate_limit_per_hour;not null;default:0" json:"rate_limit_per_hour"`
	IsActive         bool           `gorm:"column:is_active;not null;default:true" json:"is_active"`
	ExpiresAt        *time.Time     `gorm:"column:expires_at" json:"expires_at,omitempty"`
	UsageCount       int64          `gorm:"column:usage_count;not null;default:0" json:"usage_count"`
	LastUsedAt       *time.Time     `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	LastUsedIP       *string        `gorm:"column:last_used_ip;type:text" json:"last_used_ip,omitempty"`
	CreatedBy        *string        `gorm:"column:created_by;type:text" json:"created_by,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

func (k APIKey) PermissionSet() authorization.PermissionSet {
	return authorization.PermissionsFromStored(k.Permissions)
}

// Usage is one authenticated request made with a key. The rows inside the
// last hour are what the hourly ceiling is counted against.
type Usage struct {
	ID         snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	APIKeyID   uuid.UUID    `gorm:"column:api_key_id;type:uuid;not null;index:idx_api_key_usage_window,priority:1" json:"api_key_id"`
	OrgID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"org_id"`
	Method     string       `gorm:"type:text;not null" json:"method"`
	Path       string       `gorm:"type:text;not null" json:"path"`
	StatusCode int          `gorm:"column:status_code;not null" json:"status_code"`
	IPAddress  string       `gorm:"column:ip_address;type:text" json:"ip_address"`
	CreatedAt  time.Time    `gorm:"not null;index:idx_api_key_usage_window,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (Usage) TableName() string { return "api_key_usage_logs" }
