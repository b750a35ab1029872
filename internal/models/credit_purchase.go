package models

import "time"

// CreditPurchase is the idempotency record for a token purchase. The
// (user_id, key) unique index makes the first insert win; retries with the
// same key replay the recorded outcome instead of crediting twice.
// OpenBalance is only set once the purchase is applied.
type CreditPurchase struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;uniqueIndex:ux_purchases_user_key;not null" json:"user_id"`
	Key         string    `gorm:"uniqueIndex:ux_purchases_user_key;size:64;not null" json:"key"`
	Amount      int64     `gorm:"not null" json:"amount"`
	OpenBalance *int64    `json:"open_balance,omitempty"`
	Status      RowStatus `gorm:"size:20;not null;default:pending" json:"status"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (CreditPurchase) TableName() string { return "credit_purchases" }
