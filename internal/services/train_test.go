package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"github.com/modelmint/backend/internal/compute"
	"github.com/modelmint/backend/internal/models"
)

// fakeEngine stands in for the external worker. It writes the artifact file
// like the real worker would, so artifact promotion is exercised too.
type fakeEngine struct {
	trains   atomic.Int64
	predicts atomic.Int64
	failWith error
}

func (f *fakeEngine) Train(ctx context.Context, req *compute.TrainRequest) (*compute.TrainOutput, error) {
	f.trains.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	if err := os.WriteFile(req.OutPath, []byte("model-bytes"), 0o644); err != nil {
		return nil, err
	}
	return &compute.TrainOutput{
		Metrics:       map[string]float64{"r2": 0.93},
		FeatureSchema: map[string]string{"age": "float"},
	}, nil
}

func (f *fakeEngine) Predict(ctx context.Context, req *compute.PredictRequest) (*compute.PredictOutput, error) {
	f.predicts.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &compute.PredictOutput{Prediction: json.RawMessage(`42.5`)}, nil
}

type trainFixture struct {
	db       *gorm.DB
	ledger   *Ledger
	versions *VersionRegistry
	engine   *fakeEngine
	svc      *TrainingService
	csvPath  string
}

func newTrainFixture(t *testing.T) *trainFixture {
	t.Helper()
	db := newTestDB(t)

	csvPath := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(csvPath, []byte("age,income\n30,1000\n40,2000\n"), 0o644); err != nil {
		t.Fatalf("failed to write test csv: %v", err)
	}

	ledger := NewLedger(db, 100)
	versions := NewVersionRegistry(db)
	engine := &fakeEngine{}
	svc := NewTrainingService(db, ledger, versions, engine, t.TempDir())

	return &trainFixture{db: db, ledger: ledger, versions: versions, engine: engine, svc: svc, csvPath: csvPath}
}

func (f *trainFixture) request() *TrainRequest {
	return &TrainRequest{
		CSVPath:   f.csvPath,
		Features:  []string{"age"},
		Label:     "income",
		ModelType: "linear_regression",
		Params:    map[string]interface{}{"fit_intercept": true},
	}
}

func TestTrainingService_Train(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 20)
	ctx := context.Background()

	result, err := f.svc.Train(ctx, user.ID, 10, f.request())
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if !result.Charged || result.Balance != 10 {
		t.Errorf("charged=%v balance=%d, expected charged with balance 10", result.Charged, result.Balance)
	}
	if result.Model.Status != models.StatusApplied {
		t.Errorf("status = %s, expected applied", result.Model.Status)
	}
	if result.Model.Metrics == "" {
		t.Error("worker metrics should be stored")
	}
	if _, err := os.Stat(result.Model.ArtifactPath); err != nil {
		t.Errorf("artifact should be promoted to its final path: %v", err)
	}

	version, _ := f.versions.Current(ctx, user.ID, string(models.KindModels))
	if version != 1 {
		t.Errorf("models version = %d, expected 1 after training", version)
	}
}

func TestTrainingService_DuplicateReplaysWithoutCharge(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 20)
	ctx := context.Background()

	first, err := f.svc.Train(ctx, user.ID, 10, f.request())
	if err != nil {
		t.Fatalf("first Train() error = %v", err)
	}

	second, err := f.svc.Train(ctx, user.ID, 10, f.request())
	if err != nil {
		t.Fatalf("second Train() error = %v", err)
	}
	if !second.Replayed || second.Charged {
		t.Errorf("duplicate should replay uncharged, got replayed=%v charged=%v", second.Replayed, second.Charged)
	}
	if second.Model.ID != first.Model.ID {
		t.Error("duplicate should return the original row")
	}
	if second.Balance != 10 {
		t.Errorf("balance = %d, expected still 10", second.Balance)
	}
	if f.engine.trains.Load() != 1 {
		t.Errorf("worker runs = %d, expected 1", f.engine.trains.Load())
	}
}

func TestTrainingService_DifferentParamsTrainAgain(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 30)
	ctx := context.Background()

	f.svc.Train(ctx, user.ID, 10, f.request())

	req := f.request()
	req.Params = map[string]interface{}{"fit_intercept": false}
	result, err := f.svc.Train(ctx, user.ID, 10, req)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if result.Replayed {
		t.Error("changed params should not replay")
	}
	if f.engine.trains.Load() != 2 {
		t.Errorf("worker runs = %d, expected 2", f.engine.trains.Load())
	}
}

func TestTrainingService_WorkerFailureNoCharge(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 20)
	ctx := context.Background()

	f.engine.failWith = errors.New("worker crashed")
	if _, err := f.svc.Train(ctx, user.ID, 10, f.request()); err == nil {
		t.Fatal("expected worker failure to surface")
	}

	balance, _ := f.ledger.Balance(ctx, user.ID)
	if balance != 20 {
		t.Errorf("balance = %d, a failed job must not charge", balance)
	}

	var row models.TrainedModel
	if err := f.db.Where("user_id = ?", user.ID).First(&row).Error; err != nil {
		t.Fatalf("pending row should remain: %v", err)
	}
	if row.Status != models.StatusFailed {
		t.Errorf("status = %s, expected failed", row.Status)
	}

	// A retry takes over the failed row and succeeds.
	f.engine.failWith = nil
	result, err := f.svc.Train(ctx, user.ID, 10, f.request())
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if !result.Charged || result.Model.Status != models.StatusApplied {
		t.Error("retry after failure should run and charge")
	}
}

func TestTrainingService_InsufficientBalance(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 5)
	ctx := context.Background()

	_, err := f.svc.Train(ctx, user.ID, 10, f.request())
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	balance, _ := f.ledger.Balance(ctx, user.ID)
	if balance != 5 {
		t.Errorf("balance = %d, expected unchanged 5", balance)
	}

	version, _ := f.versions.Current(ctx, user.ID, string(models.KindModels))
	if version != 0 {
		t.Errorf("version = %d, a refused job must not bump", version)
	}
}

func TestTrainingService_UnknownModelType(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 20)

	req := f.request()
	req.ModelType = "quantum_forest"
	if _, err := f.svc.Train(context.Background(), user.ID, 10, req); !errors.Is(err, ErrUnknownModelType) {
		t.Fatalf("expected ErrUnknownModelType, got %v", err)
	}
}

func TestTrainingService_ListModels(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 40)
	ctx := context.Background()

	f.svc.Train(ctx, user.ID, 10, f.request())

	rows, err := f.svc.ListModels(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("models = %d, expected 1", len(rows))
	}

	other := createTestUser(t, f.db, "bob", 0)
	rows, _ = f.svc.ListModels(ctx, other.ID)
	if len(rows) != 0 {
		t.Errorf("other user's models = %d, expected 0", len(rows))
	}
}

func TestPredictionService_Predict(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 30)
	ctx := context.Background()

	trained, err := f.svc.Train(ctx, user.ID, 10, f.request())
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	preds := NewPredictionService(f.db, f.ledger, f.versions, f.svc, f.engine)

	result, err := preds.Predict(ctx, user.ID, 5, &PredictRequest{
		ModelID:       trained.Model.ID,
		FeatureValues: map[string]interface{}{"age": 35},
	})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if !result.Charged || result.Balance != 15 {
		t.Errorf("charged=%v balance=%d, expected charged with balance 15", result.Charged, result.Balance)
	}
	if result.Prediction.Result != "42.5" {
		t.Errorf("result = %q, expected worker output", result.Prediction.Result)
	}

	version, _ := f.versions.Current(ctx, user.ID, string(models.KindPredictions))
	if version != 1 {
		t.Errorf("predictions version = %d, expected 1", version)
	}
}

func TestPredictionService_DuplicateReplays(t *testing.T) {
	f := newTrainFixture(t)
	user := createTestUser(t, f.db, "alice", 30)
	ctx := context.Background()

	trained, _ := f.svc.Train(ctx, user.ID, 10, f.request())
	preds := NewPredictionService(f.db, f.ledger, f.versions, f.svc, f.engine)

	req := &PredictRequest{ModelID: trained.Model.ID, FeatureValues: map[string]interface{}{"age": 35}}
	preds.Predict(ctx, user.ID, 5, req)

	second, err := preds.Predict(ctx, user.ID, 5, req)
	if err != nil {
		t.Fatalf("second Predict() error = %v", err)
	}
	if !second.Replayed || second.Charged {
		t.Errorf("duplicate should replay uncharged, got replayed=%v charged=%v", second.Replayed, second.Charged)
	}
	if f.engine.predicts.Load() != 1 {
		t.Errorf("worker runs = %d, expected 1", f.engine.predicts.Load())
	}
}

func TestPredictionService_ForeignModelRejected(t *testing.T) {
	f := newTrainFixture(t)
	alice := createTestUser(t, f.db, "alice", 30)
	bob := createTestUser(t, f.db, "bob", 30)
	ctx := context.Background()

	trained, _ := f.svc.Train(ctx, alice.ID, 10, f.request())
	preds := NewPredictionService(f.db, f.ledger, f.versions, f.svc, f.engine)

	_, err := preds.Predict(ctx, bob.ID, 5, &PredictRequest{
		ModelID:       trained.Model.ID,
		FeatureValues: map[string]interface{}{"age": 35},
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound for another user's model, got %v", err)
	}
}
