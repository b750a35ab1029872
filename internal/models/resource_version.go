package models

import "time"

// ResourceVersion is the per-(user, kind) version counter behind cache keys.
// Version starts at 0 (no row), strictly increases on every mutation of that
// kind, and is never reused. Bumps happen inside the mutating transaction.
type ResourceVersion struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	UserID    uint         `gorm:"uniqueIndex:ux_versions_user_kind;not null" json:"user_id"`
	Kind      ResourceKind `gorm:"uniqueIndex:ux_versions_user_kind;size:30;not null" json:"kind"`
	Version   int64        `gorm:"not null;default:0" json:"version"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (ResourceVersion) TableName() string { return "resource_versions" }
