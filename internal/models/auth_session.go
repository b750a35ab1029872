package models

import "time"

// AuthSession is one refresh-token family. The row is created at login and
// mutated in place on every rotation: TokenHash becomes the current token,
// LastTokenHash remembers its predecessor so that presenting a rotated-out
// token is detectable as reuse. Revoked is terminal for the whole family.
type AuthSession struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   uint   `gorm:"index;not null" json:"user_id"`
	FamilyID string `gorm:"uniqueIndex;size:64;not null" json:"family_id"`
	// SHA-256 hex of the currently valid refresh token. Raw tokens are never stored.
	TokenHash     string `gorm:"uniqueIndex;size:64;not null" json:"-"`
	LastTokenHash string `gorm:"index;size:64" json:"-"`
	Revoked       bool   `gorm:"default:false;not null" json:"revoked"`
	IPAddress     string `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent     string `gorm:"size:255" json:"user_agent,omitempty"`
	// ExpiresAt is refreshed on rotation; AbsoluteExpiresAt never moves and
	// bounds the family's total lifetime.
	ExpiresAt         time.Time `gorm:"index;not null" json:"expires_at"`
	AbsoluteExpiresAt time.Time `gorm:"not null" json:"absolute_expires_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (AuthSession) TableName() string { return "auth_sessions" }
