package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelmint/backend/internal/models"
	"gorm.io/gorm"
)

// VersionRegistry maintains the per-(user, kind) version stamps behind cache
// keys. Versions live in the relational store, not in process memory, so
// they stay correct across concurrent service instances.
type VersionRegistry struct {
	db *gorm.DB
}

func NewVersionRegistry(db *gorm.DB) *VersionRegistry {
	return &VersionRegistry{db: db}
}

// Current returns the version for (userID, kind); 0 when the kind has never
// been mutated for this user.
func (r *VersionRegistry) Current(ctx context.Context, userID uint, kind string) (int64, error) {
	var row models.ResourceVersion
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Version, nil
}

// Bump increments the version inside the caller's transaction, so the
// mutation and its version stamp commit atomically. Returns the new version.
func (r *VersionRegistry) Bump(tx *gorm.DB, userID uint, kind models.ResourceKind) (int64, error) {
	res := tx.Model(&models.ResourceVersion{}).
		Where("user_id = ? AND kind = ?", userID, kind).
		UpdateColumn("version", gorm.Expr("version + 1"))
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected == 0 {
		row := models.ResourceVersion{UserID: userID, Kind: kind, Version: 1}
		if err := tx.Create(&row).Error; err != nil {
			// A concurrent first bump won the insert; fall back to the update.
			res = tx.Model(&models.ResourceVersion{}).
				Where("user_id = ? AND kind = ?", userID, kind).
				UpdateColumn("version", gorm.Expr("version + 1"))
			if res.Error != nil {
				return 0, res.Error
			}
			if res.RowsAffected == 0 {
				return 0, fmt.Errorf("version bump lost for user %d kind %s: %w", userID, kind, err)
			}
		}
	}

	var row models.ResourceVersion
	if err := tx.Where("user_id = ? AND kind = ?", userID, kind).First(&row).Error; err != nil {
		return 0, err
	}
	return row.Version, nil
}
