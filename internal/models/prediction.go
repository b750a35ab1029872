package models

import "time"

// Prediction is one prediction request against a trained model, idempotent on
// (user_id, fingerprint) like TrainedModel rows.
type Prediction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;uniqueIndex:ux_preds_user_fp;not null" json:"user_id"`
	ModelID     uint      `gorm:"index;not null" json:"model_id"`
	Fingerprint string    `gorm:"uniqueIndex:ux_preds_user_fp;size:64;not null" json:"fingerprint"`
	ModelType   string    `gorm:"size:50" json:"model_type"`
	Input       string    `gorm:"type:text" json:"input"`
	Result      string    `gorm:"type:text" json:"result"`
	Status      RowStatus `gorm:"size:20;index;not null;default:pending" json:"status"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Prediction) TableName() string { return "predictions" }
