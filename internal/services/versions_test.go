package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/modelmint/backend/internal/models"
)

var errAbort = errors.New("abort transaction")

func TestVersionRegistry_CurrentDefaultsToZero(t *testing.T) {
	db := newTestDB(t)
	registry := NewVersionRegistry(db)

	version, err := registry.Current(context.Background(), 1, string(models.KindModels))
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, expected 0 for untouched kind", version)
	}
}

func TestVersionRegistry_BumpIncrements(t *testing.T) {
	db := newTestDB(t)
	registry := NewVersionRegistry(db)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		var got int64
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			got, err = registry.Bump(tx, 1, models.KindModels)
			return err
		})
		if err != nil {
			t.Fatalf("Bump() error = %v", err)
		}
		if got != want {
			t.Errorf("Bump() = %d, expected %d", got, want)
		}

		current, _ := registry.Current(ctx, 1, string(models.KindModels))
		if current != want {
			t.Errorf("Current() = %d, expected %d", current, want)
		}
	}
}

func TestVersionRegistry_KindsIndependent(t *testing.T) {
	db := newTestDB(t)
	registry := NewVersionRegistry(db)
	ctx := context.Background()

	db.Transaction(func(tx *gorm.DB) error {
		registry.Bump(tx, 1, models.KindModels)
		return nil
	})

	preds, _ := registry.Current(ctx, 1, string(models.KindPredictions))
	if preds != 0 {
		t.Errorf("predictions version = %d, expected 0", preds)
	}

	otherUser, _ := registry.Current(ctx, 2, string(models.KindModels))
	if otherUser != 0 {
		t.Errorf("other user's version = %d, expected 0", otherUser)
	}
}

func TestVersionRegistry_BumpRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	registry := NewVersionRegistry(db)
	ctx := context.Background()

	db.Transaction(func(tx *gorm.DB) error {
		if _, err := registry.Bump(tx, 1, models.KindModels); err != nil {
			t.Fatalf("Bump() error = %v", err)
		}
		return errAbort
	})

	version, _ := registry.Current(ctx, 1, string(models.KindModels))
	if version != 0 {
		t.Errorf("version = %d, expected 0 after rollback", version)
	}
}
