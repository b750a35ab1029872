package services

import (
	"context"
	"errors"

	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientBalance means the conditional debit matched no row: the
	// user cannot afford the operation. Nothing was changed.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrPurchaseInProgress means another purchase with the same idempotency
	// key is still pending.
	ErrPurchaseInProgress = errors.New("purchase already in progress")
	// ErrBalanceNotZero enforces the purchase policy: tokens can only be
	// bought when the balance is exactly zero.
	ErrBalanceNotZero = errors.New("balance must be zero to buy tokens")
	// ErrInvalidPurchaseAmount rejects non-positive or over-cap purchases.
	ErrInvalidPurchaseAmount = errors.New("invalid purchase amount")
)

// Ledger is the authoritative token-balance accounting. Balances live on the
// users table and every change appends an immutable transaction row.
type Ledger struct {
	db          *gorm.DB
	maxPurchase int64
}

func NewLedger(db *gorm.DB, maxPurchase int64) *Ledger {
	return &Ledger{db: db, maxPurchase: maxPurchase}
}

// Balance returns the current token balance.
func (l *Ledger) Balance(ctx context.Context, userID uint) (int64, error) {
	var balance int64
	err := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Pluck("tokens", &balance).Error
	return balance, err
}

// CheckBalance reports whether the user can afford cost. Informational only:
// Debit re-checks atomically, so callers must not treat this as a reservation.
func (l *Ledger) CheckBalance(ctx context.Context, userID uint, cost int64) (bool, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= cost, nil
}

// Debit charges cost from the user's balance. The decrement is a single
// conditional UPDATE (only when tokens >= cost), never check-then-write, so
// concurrent debits cannot drive the balance negative. Returns the balance
// after the debit.
func (l *Ledger) Debit(ctx context.Context, userID uint, cost int64, reason string) (int64, error) {
	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		balance, txErr = l.DebitTx(tx, userID, cost, reason)
		return txErr
	})
	return balance, err
}

// DebitTx is Debit inside an existing transaction, for operations that must
// charge and mutate atomically (training apply, prediction apply).
func (l *Ledger) DebitTx(tx *gorm.DB, userID uint, cost int64, reason string) (int64, error) {
	res := tx.Model(&models.User{}).
		Where("id = ? AND tokens >= ? AND is_active = ?", userID, cost, true).
		UpdateColumn("tokens", gorm.Expr("tokens - ?", cost))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrInsufficientBalance
	}

	var balance int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Pluck("tokens", &balance).Error; err != nil {
		return 0, err
	}

	entry := models.LedgerTransaction{
		UserID:       userID,
		Delta:        -cost,
		Reason:       reason,
		BalanceAfter: balance,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds amount to the user's balance unconditionally and appends the
// ledger entry. Used by administrative refunds; purchases go through BuyTokens.
func (l *Ledger) Credit(ctx context.Context, userID uint, amount int64, reason string) (int64, error) {
	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND is_active = ?", userID, true).
			UpdateColumn("tokens", gorm.Expr("tokens + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).Pluck("tokens", &balance).Error; err != nil {
			return err
		}

		return tx.Create(&models.LedgerTransaction{
			UserID:       userID,
			Delta:        amount,
			Reason:       reason,
			BalanceAfter: balance,
		}).Error
	})
	return balance, err
}

// BuyTokens is the idempotent token purchase. The (user, key) pending row is
// inserted exactly once; a retry with the same key replays the recorded
// outcome instead of crediting twice. Policy carried over from the billing
// model: purchases only apply when the current balance is zero.
func (l *Ledger) BuyTokens(ctx context.Context, userID uint, amount int64, key string) (int64, error) {
	if amount <= 0 || amount > l.maxPurchase {
		return 0, ErrInvalidPurchaseAmount
	}

	var balance int64
	var appliedNow bool

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.CreditPurchase{
			UserID: userID,
			Key:    key,
			Amount: amount,
			Status: models.StatusPending,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			// Duplicate key: replay the recorded outcome.
			var existing models.CreditPurchase
			if err := tx.Where("user_id = ? AND key = ?", userID, key).First(&existing).Error; err != nil {
				return err
			}
			switch existing.Status {
			case models.StatusApplied:
				if existing.OpenBalance != nil {
					balance = *existing.OpenBalance
					return nil
				}
				return ErrPurchaseInProgress
			case models.StatusFailed:
				return ErrBalanceNotZero
			default:
				return ErrPurchaseInProgress
			}
		}

		// First attempt for this key: credit only from a zero balance.
		credit := tx.Model(&models.User{}).
			Where("id = ? AND tokens = 0 AND is_active = ?", userID, true).
			UpdateColumn("tokens", gorm.Expr("tokens + ?", amount))
		if credit.Error != nil {
			return credit.Error
		}
		if credit.RowsAffected == 0 {
			if err := tx.Model(&models.CreditPurchase{}).
				Where("user_id = ? AND key = ?", userID, key).
				Update("status", models.StatusFailed).Error; err != nil {
				return err
			}
			return ErrBalanceNotZero
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).Pluck("tokens", &balance).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.CreditPurchase{}).
			Where("user_id = ? AND key = ?", userID, key).
			Updates(map[string]interface{}{
				"status":       models.StatusApplied,
				"open_balance": balance,
			}).Error; err != nil {
			return err
		}

		appliedNow = true
		return tx.Create(&models.LedgerTransaction{
			UserID:       userID,
			Delta:        amount,
			Reason:       models.ReasonPurchase,
			BalanceAfter: balance,
		}).Error
	})
	if err != nil {
		return 0, err
	}

	if appliedNow {
		logger.Info().
			Uint("user_id", userID).
			Int64("credited", amount).
			Int64("balance_after", balance).
			Msg("tokens purchased")
	}
	return balance, nil
}

// PurchaseHistory returns the user's purchase rows, oldest first. Not billed.
func (l *Ledger) PurchaseHistory(ctx context.Context, userID uint) ([]models.CreditPurchase, error) {
	var rows []models.CreditPurchase
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&rows).Error
	return rows, err
}

// Transactions returns the user's ledger entries, oldest first.
func (l *Ledger) Transactions(ctx context.Context, userID uint) ([]models.LedgerTransaction, error) {
	var rows []models.LedgerTransaction
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&rows).Error
	return rows, err
}
