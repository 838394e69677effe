// Package domain contains persistence models for the org service.
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Organization represents a tenant.
type Organization struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string            `gorm:"type:text;not null" json:"name"`
	Slug          string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	Domain        *string           `gorm:"type:text;uniqueIndex:ux_organizations_domain" json:"domain,omitempty"`
	Settings      datatypes.JSONMap `gorm:"type:jsonb" json:"settings"`
	Plan          string            `gorm:"type:text;not null;default:'free'" json:"plan"`
	PlanMetadata  datatypes.JSONMap `gorm:"type:jsonb" json:"plan_metadata"`
	MaxUsers      int               `gorm:"column:max_users;not null;default:0" json:"max_users"`
	IsActive      bool              `gorm:"column:is_active;not null;default:true" json:"is_active"`
	DeactivatedAt *time.Time        `gorm:"column:deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// HasUserLimit reports whether the plan caps active users.
func (o Organization) HasUserLimit() bool {
	return o.MaxUsers > 0
}
