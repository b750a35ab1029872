package models

import (
	"time"
)

// User represents a platform account. Tokens is the usage balance debited by
// the ledger; the check constraint keeps it non-negative even if a raw update
// slips past the conditional decrement. Users are soft-disabled, never deleted.
type User struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Username  string     `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Email     string     `gorm:"uniqueIndex;size:255" json:"email"`
	Password  string     `gorm:"size:255;not null" json:"-"`
	FirstName string     `gorm:"size:50" json:"first_name"`
	LastName  string     `gorm:"size:50" json:"last_name"`
	Tokens    int64      `gorm:"not null;default:0;check:tokens >= 0" json:"tokens"`
	IsActive  bool       `gorm:"default:true" json:"is_active"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }
