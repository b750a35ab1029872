package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/compute"
	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTrainingInProgress means an identical training job is already
	// pending, for this user. The caller should retry later.
	ErrTrainingInProgress = errors.New("identical training job already in progress")
	ErrModelNotFound      = errors.New("model not found")
	ErrUnknownModelType   = errors.New("unknown model type")
)

// modelTaskKinds maps each supported model type to its task family. Also the
// whitelist of accepted model types.
var modelTaskKinds = map[string]string{
	"linear_regression":   "regression",
	"decision_tree":       "classification",
	"random_forest":       "classification",
	"logistic_regression": "classification",
}

// TaskKind returns "regression" or "classification" for a model type, or ""
// when the type is unknown.
func TaskKind(modelType string) string {
	return modelTaskKinds[modelType]
}

// TrainRequest is a validated training job. CSVPath points at the uploaded
// dataset already staged on local disk by the handler.
type TrainRequest struct {
	CSVPath   string
	Features  []string
	Label     string
	ModelType string
	Params    map[string]interface{}
}

// TrainResult reports the outcome of a training call. Replayed means the job
// had already completed under the same fingerprint and no charge was made.
type TrainResult struct {
	Model    *models.TrainedModel
	Balance  int64
	Charged  bool
	Replayed bool
}

// TrainingService runs training jobs exactly once per logical request. The
// (user, fingerprint) row is the idempotency gate: duplicates replay the
// stored outcome without recomputation or a second charge.
type TrainingService struct {
	db          *gorm.DB
	ledger      *Ledger
	versions    *VersionRegistry
	engine      compute.Engine
	artifactDir string
}

func NewTrainingService(db *gorm.DB, ledger *Ledger, versions *VersionRegistry, engine compute.Engine, artifactDir string) *TrainingService {
	return &TrainingService{
		db:          db,
		ledger:      ledger,
		versions:    versions,
		engine:      engine,
		artifactDir: artifactDir,
	}
}

// Train executes the full training flow: fingerprint, claim, compute, then
// charge and apply in one transaction. The debit only happens after the
// worker succeeds, so a failed job never costs the user anything.
func (s *TrainingService) Train(ctx context.Context, userID uint, cost int64, req *TrainRequest) (*TrainResult, error) {
	if _, ok := modelTaskKinds[req.ModelType]; !ok {
		return nil, ErrUnknownModelType
	}
	if len(req.Features) == 0 || req.Label == "" {
		return nil, fmt.Errorf("%w: features and label are required", ErrUnknownModelType)
	}

	fingerprint, err := trainingFingerprint(req)
	if err != nil {
		return nil, err
	}

	row, claimed, err := s.claimTraining(ctx, userID, fingerprint, req)
	if err != nil {
		return nil, err
	}
	if !claimed {
		balance, err := s.ledger.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &TrainResult{Model: row, Balance: balance, Replayed: true}, nil
	}

	tmpPath := filepath.Join(s.artifactDir, "tmp", fingerprint+".model")
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		s.failTraining(userID, fingerprint, tmpPath)
		return nil, err
	}

	out, err := s.engine.Train(ctx, &compute.TrainRequest{
		CSVPath:   req.CSVPath,
		Features:  req.Features,
		Label:     req.Label,
		ModelType: req.ModelType,
		Params:    req.Params,
		OutPath:   tmpPath,
	})
	if err != nil {
		s.failTraining(userID, fingerprint, tmpPath)
		return nil, err
	}

	finalPath := filepath.Join(s.artifactDir, fingerprint+".model")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		s.failTraining(userID, fingerprint, tmpPath)
		return nil, err
	}

	metricsJSON, _ := json.Marshal(out.Metrics)
	schemaJSON, _ := json.Marshal(out.FeatureSchema)

	var balance int64
	var applied models.TrainedModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		balance, txErr = s.ledger.DebitTx(tx, userID, cost, models.ReasonTrain)
		if txErr != nil {
			return txErr
		}

		if txErr = tx.Model(&models.TrainedModel{}).
			Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
			Updates(map[string]interface{}{
				"status":         models.StatusApplied,
				"metrics":        string(metricsJSON),
				"feature_schema": string(schemaJSON),
				"artifact_path":  finalPath,
			}).Error; txErr != nil {
			return txErr
		}

		if _, txErr = s.versions.Bump(tx, userID, models.KindModels); txErr != nil {
			return txErr
		}

		return tx.Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
			First(&applied).Error
	})
	if err != nil {
		os.Remove(finalPath)
		s.failTraining(userID, fingerprint, "")
		return nil, err
	}

	logger.Action("model_trained", userID, "").
		Uint("model_id", applied.ID).
		Str("model_type", applied.ModelType).
		Int64("balance_after", balance).
		Send()

	return &TrainResult{Model: &applied, Balance: balance, Charged: true}, nil
}

// claimTraining inserts the pending row, or resolves an existing one.
// Returns (row, false, nil) when the outcome can be replayed without work.
func (s *TrainingService) claimTraining(ctx context.Context, userID uint, fingerprint string, req *TrainRequest) (*models.TrainedModel, bool, error) {
	featuresJSON, _ := json.Marshal(req.Features)
	paramsJSON, err := cache.CanonicalJSON(req.Params)
	if err != nil {
		return nil, false, err
	}

	row := models.TrainedModel{
		UserID:      userID,
		Fingerprint: fingerprint,
		ModelType:   req.ModelType,
		Features:    string(featuresJSON),
		Label:       req.Label,
		Params:      string(paramsJSON),
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

	var existing models.TrainedModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		First(&existing).Error; err != nil {
		return nil, false, err
	}

	switch existing.Status {
	case models.StatusApplied:
		return &existing, false, nil
	case models.StatusFailed:
		// Take over the failed row. The conditional update loses to a
		// concurrent retry that claimed it first.
		claim := s.db.WithContext(ctx).Model(&models.TrainedModel{}).
			Where("user_id = ? AND fingerprint = ? AND status = ?", userID, fingerprint, models.StatusFailed).
			Update("status", models.StatusPending)
		if claim.Error != nil {
			return nil, false, claim.Error
		}
		if claim.RowsAffected == 0 {
			return nil, false, ErrTrainingInProgress
		}
		existing.Status = models.StatusPending
		return &existing, true, nil
	default:
		return nil, false, ErrTrainingInProgress
	}
}

func (s *TrainingService) failTraining(userID uint, fingerprint, tmpPath string) {
	if tmpPath != "" {
		os.Remove(tmpPath)
	}
	err := s.db.Model(&models.TrainedModel{}).
		Where("user_id = ? AND fingerprint = ? AND status = ?", userID, fingerprint, models.StatusPending).
		Update("status", models.StatusFailed).Error
	if err != nil {
		logger.Error().Err(err).
			Uint("user_id", userID).
			Str("fingerprint", fingerprint).
			Msg("failed to mark training row failed")
	}
}

// ListModels returns the user's completed models, newest first. Billed via
// the cache gateway by the handler.
func (s *TrainingService) ListModels(ctx context.Context, userID uint) ([]models.TrainedModel, error) {
	var rows []models.TrainedModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusApplied).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// GetModel returns one of the user's completed models.
func (s *TrainingService) GetModel(ctx context.Context, userID, modelID uint) (*models.TrainedModel, error) {
	var row models.TrainedModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status = ?", modelID, userID, models.StatusApplied).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// trainingFingerprint hashes everything that determines the training output:
// dataset content, feature set, label, model type, and normalized params.
// Feature order is irrelevant, so the list is sorted before hashing.
func trainingFingerprint(req *TrainRequest) (string, error) {
	csvSum, err := fileSHA256(req.CSVPath)
	if err != nil {
		return "", err
	}

	features := make([]string, len(req.Features))
	copy(features, req.Features)
	sort.Strings(features)

	material, err := cache.CanonicalJSON(map[string]interface{}{
		"csv":        csvSum,
		"features":   features,
		"label":      req.Label,
		"model_type": req.ModelType,
		"params":     req.Params,
	})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:]), nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
