package models

import "time"

// LedgerTransaction is one append-only ledger entry. Delta is signed: debits
// are negative, credits positive. BalanceAfter snapshots the balance the
// conditional update produced, so the sum of deltas can be audited against
// the users table at any time. Rows are never updated or deleted.
type LedgerTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	Delta        int64     `gorm:"not null" json:"delta"`
	Reason       string    `gorm:"size:50;index;not null" json:"reason"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }
