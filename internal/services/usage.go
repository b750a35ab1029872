package services

import (
	"context"
	"encoding/json"

	"github.com/modelmint/backend/internal/models"
	"gorm.io/gorm"
)

// UsageService computes per-user analytics over completed models. Every
// aggregation here is served through the cache gateway keyed by the user's
// models version, so results stay fresh across training runs without manual
// invalidation.
type UsageService struct {
	db *gorm.DB
}

func NewUsageService(db *gorm.DB) *UsageService {
	return &UsageService{db: db}
}

type kindCount struct {
	Kind  string `gorm:"column:kind"`
	Count int64  `gorm:"column:count"`
}

// ModelTypeDistribution counts the user's completed models per model type.
func (s *UsageService) ModelTypeDistribution(ctx context.Context, userID uint) (map[string]int64, error) {
	var rows []kindCount
	err := s.db.WithContext(ctx).Model(&models.TrainedModel{}).
		Select("model_type AS kind, COUNT(*) AS count").
		Where("user_id = ? AND status = ?", userID, models.StatusApplied).
		Group("model_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	dist := make(map[string]int64, len(rows))
	for _, r := range rows {
		dist[r.Kind] = r.Count
	}
	return dist, nil
}

// TaskSplit groups the user's models into regression vs classification. The
// mapping from model type to task lives in Go, not SQL, so it stays in one
// place with the training whitelist.
func (s *UsageService) TaskSplit(ctx context.Context, userID uint) (map[string]int64, error) {
	byType, err := s.ModelTypeDistribution(ctx, userID)
	if err != nil {
		return nil, err
	}

	split := map[string]int64{"regression": 0, "classification": 0}
	for modelType, count := range byType {
		if task := TaskKind(modelType); task != "" {
			split[task] += count
		}
	}
	return split, nil
}

// LabelDistribution counts completed models per target label.
func (s *UsageService) LabelDistribution(ctx context.Context, userID uint) (map[string]int64, error) {
	var rows []kindCount
	err := s.db.WithContext(ctx).Model(&models.TrainedModel{}).
		Select("label AS kind, COUNT(*) AS count").
		Where("user_id = ? AND status = ?", userID, models.StatusApplied).
		Group("label").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	dist := make(map[string]int64, len(rows))
	for _, r := range rows {
		dist[r.Kind] = r.Count
	}
	return dist, nil
}

// MetricStats summarizes one metric across a user's models.
type MetricStats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// MetricDistribution aggregates every metric reported by the worker across
// the user's completed models. Metrics are stored as opaque JSON per model,
// so the aggregation parses them in Go rather than in SQL.
func (s *UsageService) MetricDistribution(ctx context.Context, userID uint) (map[string]MetricStats, error) {
	var metricBlobs []string
	err := s.db.WithContext(ctx).Model(&models.TrainedModel{}).
		Where("user_id = ? AND status = ? AND metrics <> ''", userID, models.StatusApplied).
		Pluck("metrics", &metricBlobs).Error
	if err != nil {
		return nil, err
	}

	stats := make(map[string]MetricStats)
	for _, blob := range metricBlobs {
		var metrics map[string]float64
		if err := json.Unmarshal([]byte(blob), &metrics); err != nil {
			// Tolerate rows written by an older worker format.
			continue
		}
		for name, value := range metrics {
			st, ok := stats[name]
			if !ok {
				stats[name] = MetricStats{Count: 1, Min: value, Max: value, Mean: value}
				continue
			}
			if value < st.Min {
				st.Min = value
			}
			if value > st.Max {
				st.Max = value
			}
			st.Mean = (st.Mean*float64(st.Count) + value) / float64(st.Count+1)
			st.Count++
			stats[name] = st
		}
	}
	return stats, nil
}
