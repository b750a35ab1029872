package services

import (
	"context"
	"errors"
	"testing"

	"github.com/modelmint/backend/internal/models"
)

func TestLedger_Debit(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 10)
	ledger := NewLedger(db, 100)
	ctx := context.Background()

	balance, err := ledger.Debit(ctx, user.ID, 3, models.ReasonMetadata)
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if balance != 7 {
		t.Errorf("balance = %d, expected 7", balance)
	}

	var entry models.LedgerTransaction
	if err := db.Where("user_id = ?", user.ID).First(&entry).Error; err != nil {
		t.Fatalf("no ledger entry written: %v", err)
	}
	if entry.Delta != -3 || entry.BalanceAfter != 7 || entry.Reason != models.ReasonMetadata {
		t.Errorf("unexpected ledger entry: %+v", entry)
	}
}

func TestLedger_DebitInsufficient(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 2)
	ledger := NewLedger(db, 100)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, user.ID, 3, models.ReasonTrain)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The refused debit must leave no trace.
	balance, _ := ledger.Balance(ctx, user.ID)
	if balance != 2 {
		t.Errorf("balance = %d, expected unchanged 2", balance)
	}
	var count int64
	db.Model(&models.LedgerTransaction{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 0 {
		t.Errorf("ledger entries = %d, expected 0", count)
	}
}

func TestLedger_DebitExactBalance(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 5)
	ledger := NewLedger(db, 100)

	balance, err := ledger.Debit(context.Background(), user.ID, 5, models.ReasonPredict)
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, expected 0", balance)
	}
}

func TestLedger_BuyTokens(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 0)
	ledger := NewLedger(db, 100)
	ctx := context.Background()

	balance, err := ledger.BuyTokens(ctx, user.ID, 50, "purchase-1")
	if err != nil {
		t.Fatalf("BuyTokens() error = %v", err)
	}
	if balance != 50 {
		t.Errorf("balance = %d, expected 50", balance)
	}
}

func TestLedger_BuyTokensReplay(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 0)
	ledger := NewLedger(db, 100)
	ctx := context.Background()

	ledger.BuyTokens(ctx, user.ID, 50, "purchase-1")

	// Spend some so the replayed balance differs from the live one.
	ledger.Debit(ctx, user.ID, 10, models.ReasonTrain)

	balance, err := ledger.BuyTokens(ctx, user.ID, 50, "purchase-1")
	if err != nil {
		t.Fatalf("replay error = %v", err)
	}
	if balance != 50 {
		t.Errorf("replayed balance = %d, expected the recorded 50", balance)
	}

	live, _ := ledger.Balance(ctx, user.ID)
	if live != 40 {
		t.Errorf("live balance = %d, expected 40 (replay must not credit again)", live)
	}
}

func TestLedger_BuyTokensNonZeroBalance(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 5)
	ledger := NewLedger(db, 100)

	_, err := ledger.BuyTokens(context.Background(), user.ID, 50, "purchase-1")
	if !errors.Is(err, ErrBalanceNotZero) {
		t.Fatalf("expected ErrBalanceNotZero, got %v", err)
	}

	// Retrying the same key replays the failure.
	_, err = ledger.BuyTokens(context.Background(), user.ID, 50, "purchase-1")
	if !errors.Is(err, ErrBalanceNotZero) {
		t.Fatalf("expected ErrBalanceNotZero on replay, got %v", err)
	}
}

func TestLedger_BuyTokensInvalidAmount(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 0)
	ledger := NewLedger(db, 100)
	ctx := context.Background()

	for _, amount := range []int64{0, -5, 101} {
		if _, err := ledger.BuyTokens(ctx, user.ID, amount, "k"); !errors.Is(err, ErrInvalidPurchaseAmount) {
			t.Errorf("amount %d: expected ErrInvalidPurchaseAmount, got %v", amount, err)
		}
	}
}

func TestLedger_BuyTokensDistinctKeys(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 0)
	ledger := NewLedger(db, 100)
	ctx := context.Background()

	ledger.BuyTokens(ctx, user.ID, 50, "purchase-1")
	ledger.Debit(ctx, user.ID, 50, models.ReasonTrain)

	balance, err := ledger.BuyTokens(ctx, user.ID, 30, "purchase-2")
	if err != nil {
		t.Fatalf("second purchase error = %v", err)
	}
	if balance != 30 {
		t.Errorf("balance = %d, expected 30", balance)
	}
}

func TestLedger_Transactions(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "alice", 0)
	ledger := NewLedger(db, 100)
	ctx := context.Background()

	ledger.BuyTokens(ctx, user.ID, 20, "purchase-1")
	ledger.Debit(ctx, user.ID, 5, models.ReasonPredict)

	rows, err := ledger.Transactions(ctx, user.ID)
	if err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("transactions = %d, expected 2", len(rows))
	}
	if rows[0].Delta != 20 || rows[1].Delta != -5 {
		t.Errorf("unexpected deltas: %d, %d", rows[0].Delta, rows[1].Delta)
	}
}
