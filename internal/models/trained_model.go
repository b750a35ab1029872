package models

import "time"

// TrainedModel is one training job and its resulting artifact. Fingerprint is
// a content hash over dataset, features, label, model type, and normalized
// hyperparameters; the (user_id, fingerprint) unique index is the idempotency
// gate that collapses duplicate training requests.
type TrainedModel struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UserID      uint   `gorm:"index;uniqueIndex:ux_models_user_fp;not null" json:"user_id"`
	Fingerprint string `gorm:"uniqueIndex:ux_models_user_fp;size:64;not null" json:"fingerprint"`
	ModelType   string `gorm:"size:50;not null" json:"model_type"`
	// Features, params, schema and metrics are stored as JSON text; the core
	// treats them as opaque payload owned by the training collaborator.
	Features      string    `gorm:"type:text" json:"features"`
	Label         string    `gorm:"size:100" json:"label"`
	Params        string    `gorm:"type:text" json:"params"`
	FeatureSchema string    `gorm:"type:text" json:"feature_schema"`
	Metrics       string    `gorm:"type:text" json:"metrics"`
	ArtifactPath  string    `gorm:"size:500" json:"-"`
	Status        RowStatus `gorm:"size:20;index;not null;default:pending" json:"status"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (TrainedModel) TableName() string { return "trained_models" }
