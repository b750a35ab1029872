package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/compute"
	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPredictionInProgress means an identical prediction is already pending.
var ErrPredictionInProgress = errors.New("identical prediction already in progress")

// PredictRequest is one inference call against a model the user owns.
type PredictRequest struct {
	ModelID       uint
	FeatureValues map[string]interface{}
}

// PredictResult reports the outcome. Replayed means the same inputs had
// already been predicted and the stored result was returned without a charge.
type PredictResult struct {
	Prediction *models.Prediction
	Balance    int64
	Charged    bool
	Replayed   bool
}

// PredictionService runs inference exactly once per (user, model, input) by
// the same pending-row discipline as training.
type PredictionService struct {
	db       *gorm.DB
	ledger   *Ledger
	versions *VersionRegistry
	training *TrainingService
	engine   compute.Engine
}

func NewPredictionService(db *gorm.DB, ledger *Ledger, versions *VersionRegistry, training *TrainingService, engine compute.Engine) *PredictionService {
	return &PredictionService{
		db:       db,
		ledger:   ledger,
		versions: versions,
		training: training,
		engine:   engine,
	}
}

// Predict runs the inference flow: ownership check, fingerprint, claim,
// compute, then charge and apply atomically.
func (s *PredictionService) Predict(ctx context.Context, userID uint, cost int64, req *PredictRequest) (*PredictResult, error) {
	model, err := s.training.GetModel(ctx, userID, req.ModelID)
	if err != nil {
		return nil, err
	}

	fingerprint, err := predictionFingerprint(req.ModelID, req.FeatureValues)
	if err != nil {
		return nil, err
	}

	row, claimed, err := s.claimPrediction(ctx, userID, model, fingerprint, req)
	if err != nil {
		return nil, err
	}
	if !claimed {
		balance, err := s.ledger.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &PredictResult{Prediction: row, Balance: balance, Replayed: true}, nil
	}

	out, err := s.engine.Predict(ctx, &compute.PredictRequest{
		ArtifactPath:  model.ArtifactPath,
		ModelType:     model.ModelType,
		FeatureValues: req.FeatureValues,
	})
	if err != nil {
		s.failPrediction(userID, fingerprint)
		return nil, err
	}

	var balance int64
	var applied models.Prediction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		balance, txErr = s.ledger.DebitTx(tx, userID, cost, models.ReasonPredict)
		if txErr != nil {
			return txErr
		}

		if txErr = tx.Model(&models.Prediction{}).
			Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
			Updates(map[string]interface{}{
				"status": models.StatusApplied,
				"result": string(out.Prediction),
			}).Error; txErr != nil {
			return txErr
		}

		if _, txErr = s.versions.Bump(tx, userID, models.KindPredictions); txErr != nil {
			return txErr
		}

		return tx.Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
			First(&applied).Error
	})
	if err != nil {
		s.failPrediction(userID, fingerprint)
		return nil, err
	}

	logger.Action("prediction_made", userID, "").
		Uint("model_id", model.ID).
		Int64("balance_after", balance).
		Send()

	return &PredictResult{Prediction: &applied, Balance: balance, Charged: true}, nil
}

func (s *PredictionService) claimPrediction(ctx context.Context, userID uint, model *models.TrainedModel, fingerprint string, req *PredictRequest) (*models.Prediction, bool, error) {
	inputJSON, err := cache.CanonicalJSON(req.FeatureValues)
	if err != nil {
		return nil, false, err
	}

	row := models.Prediction{
		UserID:      userID,
		ModelID:     model.ID,
		Fingerprint: fingerprint,
		ModelType:   model.ModelType,
		Input:       string(inputJSON),
		Status:      models.StatusPending,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return &row, true, nil
	}

	var existing models.Prediction
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		First(&existing).Error; err != nil {
		return nil, false, err
	}

	switch existing.Status {
	case models.StatusApplied:
		return &existing, false, nil
	case models.StatusFailed:
		claim := s.db.WithContext(ctx).Model(&models.Prediction{}).
			Where("user_id = ? AND fingerprint = ? AND status = ?", userID, fingerprint, models.StatusFailed).
			Update("status", models.StatusPending)
		if claim.Error != nil {
			return nil, false, claim.Error
		}
		if claim.RowsAffected == 0 {
			return nil, false, ErrPredictionInProgress
		}
		existing.Status = models.StatusPending
		return &existing, true, nil
	default:
		return nil, false, ErrPredictionInProgress
	}
}

func (s *PredictionService) failPrediction(userID uint, fingerprint string) {
	err := s.db.Model(&models.Prediction{}).
		Where("user_id = ? AND fingerprint = ? AND status = ?", userID, fingerprint, models.StatusPending).
		Update("status", models.StatusFailed).Error
	if err != nil {
		logger.Error().Err(err).
			Uint("user_id", userID).
			Str("fingerprint", fingerprint).
			Msg("failed to mark prediction row failed")
	}
}

// ListPredictions returns the user's completed predictions, newest first.
func (s *PredictionService) ListPredictions(ctx context.Context, userID uint) ([]models.Prediction, error) {
	var rows []models.Prediction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusApplied).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// predictionFingerprint hashes the model identity and the normalized feature
// values. Two requests with the same values in a different key order hash
// identically.
func predictionFingerprint(modelID uint, featureValues map[string]interface{}) (string, error) {
	material, err := cache.CanonicalJSON(map[string]interface{}{
		"model_id": modelID,
		"values":   featureValues,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:]), nil
}
