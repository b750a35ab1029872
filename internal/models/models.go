package models

// RowStatus is the lifecycle of an idempotent work row (training, prediction,
// credit purchase). Rows are inserted pending, and end applied or failed.
type RowStatus string

const (
	StatusPending RowStatus = "pending"
	StatusApplied RowStatus = "applied"
	StatusFailed  RowStatus = "failed"
)

// ResourceKind names a logical category of user-owned data that shares one
// version counter. Mutating a kind bumps its version and orphans every cache
// entry built against the previous version.
type ResourceKind string

const (
	KindModels      ResourceKind = "models"
	KindPredictions ResourceKind = "predictions"
)

// Ledger reason codes.
const (
	ReasonTrain    = "train"
	ReasonPredict  = "predict"
	ReasonMetadata = "metadata"
	ReasonAssist   = "assist"
	ReasonPurchase = "purchase"
)
