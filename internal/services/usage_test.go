package services

import (
	"context"
	"math"
	"testing"

	"github.com/modelmint/backend/internal/models"
	"gorm.io/gorm"
)

func seedModel(t *testing.T, db *gorm.DB, userID uint, modelType, label, metrics string) {
	t.Helper()
	row := models.TrainedModel{
		UserID:      userID,
		Fingerprint: modelType + "-" + label + "-" + metrics,
		ModelType:   modelType,
		Label:       label,
		Metrics:     metrics,
		Status:      models.StatusApplied,
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed model: %v", err)
	}
}

func TestUsageService_ModelTypeDistribution(t *testing.T) {
	db := newTestDB(t)
	usage := NewUsageService(db)

	seedModel(t, db, 1, "linear_regression", "income", "")
	seedModel(t, db, 1, "linear_regression", "price", "")
	seedModel(t, db, 1, "random_forest", "churn", "")
	seedModel(t, db, 2, "decision_tree", "churn", "")

	dist, err := usage.ModelTypeDistribution(context.Background(), 1)
	if err != nil {
		t.Fatalf("ModelTypeDistribution() error = %v", err)
	}
	if dist["linear_regression"] != 2 || dist["random_forest"] != 1 {
		t.Errorf("unexpected distribution: %v", dist)
	}
	if _, ok := dist["decision_tree"]; ok {
		t.Error("another user's models leaked into the distribution")
	}
}

func TestUsageService_TaskSplit(t *testing.T) {
	db := newTestDB(t)
	usage := NewUsageService(db)

	seedModel(t, db, 1, "linear_regression", "income", "")
	seedModel(t, db, 1, "random_forest", "churn", "")
	seedModel(t, db, 1, "decision_tree", "churn2", "")

	split, err := usage.TaskSplit(context.Background(), 1)
	if err != nil {
		t.Fatalf("TaskSplit() error = %v", err)
	}
	if split["regression"] != 1 || split["classification"] != 2 {
		t.Errorf("unexpected split: %v", split)
	}
}

func TestUsageService_LabelDistribution(t *testing.T) {
	db := newTestDB(t)
	usage := NewUsageService(db)

	seedModel(t, db, 1, "linear_regression", "income", "")
	seedModel(t, db, 1, "random_forest", "income", "")
	seedModel(t, db, 1, "decision_tree", "churn", "")

	dist, err := usage.LabelDistribution(context.Background(), 1)
	if err != nil {
		t.Fatalf("LabelDistribution() error = %v", err)
	}
	if dist["income"] != 2 || dist["churn"] != 1 {
		t.Errorf("unexpected distribution: %v", dist)
	}
}

func TestUsageService_MetricDistribution(t *testing.T) {
	db := newTestDB(t)
	usage := NewUsageService(db)

	seedModel(t, db, 1, "linear_regression", "a", `{"r2":0.8}`)
	seedModel(t, db, 1, "linear_regression", "b", `{"r2":0.6}`)
	seedModel(t, db, 1, "random_forest", "c", `{"accuracy":0.9}`)
	seedModel(t, db, 1, "decision_tree", "d", `not-json`)

	stats, err := usage.MetricDistribution(context.Background(), 1)
	if err != nil {
		t.Fatalf("MetricDistribution() error = %v", err)
	}

	r2, ok := stats["r2"]
	if !ok {
		t.Fatalf("missing r2 stats: %v", stats)
	}
	if r2.Count != 2 || r2.Min != 0.6 || r2.Max != 0.8 {
		t.Errorf("unexpected r2 stats: %+v", r2)
	}
	if math.Abs(r2.Mean-0.7) > 1e-9 {
		t.Errorf("r2 mean = %v, expected 0.7", r2.Mean)
	}

	if acc := stats["accuracy"]; acc.Count != 1 || acc.Mean != 0.9 {
		t.Errorf("unexpected accuracy stats: %+v", stats["accuracy"])
	}
}
