package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/pkg/logger"
)

const TaskTypeReconcile = "maintenance:reconcile"

// stalePendingAge is how long a pending row may sit before the reconciler
// treats its owner as crashed.
const stalePendingAge = 30 * time.Minute

// ReconcileTask is the queue payload for a reconcile run.
type ReconcileTask struct {
	Requested time.Time `json:"requested"`
}

// ReconcileQueue enqueues reconcile runs. With Redis available the run goes
// through asynq; without it the run executes inline.
type ReconcileQueue interface {
	Enqueue(task *ReconcileTask) error
	IsAsync() bool
	Close() error
}

// Reconciler sweeps rows orphaned by a crash: pending training, prediction,
// and purchase rows whose owner never finished, and abandoned temporary
// artifacts. It runs once at startup and then on a schedule.
type Reconciler struct {
	db          *gorm.DB
	artifactDir string
	scheduler   *cron.Cron
}

func NewReconciler(db *gorm.DB, artifactDir string) *Reconciler {
	return &Reconciler{db: db, artifactDir: artifactDir}
}

// Run performs one full sweep. Safe to call concurrently with live traffic:
// every sweep is a conditional update that only touches rows old enough that
// no live request can still own them.
func (r *Reconciler) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-stalePendingAge)

	swept := 0
	for _, target := range []struct {
		name  string
		model interface{}
	}{
		{"trained_models", &models.TrainedModel{}},
		{"predictions", &models.Prediction{}},
		{"credit_purchases", &models.CreditPurchase{}},
	} {
		res := r.db.WithContext(ctx).Model(target.model).
			Where("status = ? AND updated_at < ?", models.StatusPending, cutoff).
			Update("status", models.StatusFailed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			logger.Warn().
				Str("table", target.name).
				Int64("rows", res.RowsAffected).
				Msg("reconciler marked stale pending rows failed")
			swept += int(res.RowsAffected)
		}
	}

	r.sweepTmpArtifacts(cutoff)

	logger.Info().Int("rows", swept).Msg("reconcile run finished")
	return nil
}

func (r *Reconciler) sweepTmpArtifacts(cutoff time.Time) {
	tmpDir := filepath.Join(r.artifactDir, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("reconciler could not read tmp artifact dir")
		}
		return
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(tmpDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("reconciler could not remove tmp artifact")
			continue
		}
		logger.Info().Str("path", path).Msg("reconciler removed abandoned tmp artifact")
	}
}

// StartScheduler runs a sweep every hour.
func (r *Reconciler) StartScheduler() {
	r.scheduler = cron.New()
	_, err := r.scheduler.AddFunc("@hourly", func() {
		if err := r.Run(context.Background()); err != nil {
			logger.Error().Err(err).Msg("scheduled reconcile run failed")
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to schedule reconcile job")
		return
	}
	r.scheduler.Start()
	logger.Info().Msg("reconcile scheduler started")
}

func (r *Reconciler) StopScheduler() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}

// NewReconcileQueue picks the queue implementation for the deployment: asynq
// when Redis is reachable, inline otherwise.
func NewReconcileQueue(cfg *config.RedisConfig, reconciler *Reconciler) ReconcileQueue {
	if cfg.Enabled {
		queue, err := newAsyncReconcileQueue(cfg)
		if err == nil {
			logger.Infof("reconcile queue: asynq via redis at %s", cfg.Addr)
			return queue
		}
		logger.Infof("reconcile queue: redis unavailable, running inline: %v", err)
	} else {
		logger.Infof("reconcile queue: inline (redis disabled)")
	}
	return &inlineReconcileQueue{reconciler: reconciler}
}

type asyncReconcileQueue struct {
	client *asynq.Client
}

func newAsyncReconcileQueue(cfg *config.RedisConfig) (*asyncReconcileQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &asyncReconcileQueue{client: client}, nil
}

func (q *asyncReconcileQueue) Enqueue(task *ReconcileTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	info, err := q.client.Enqueue(
		asynq.NewTask(TaskTypeReconcile, payload),
		asynq.Queue("maintenance"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Infof("reconcile task enqueued: id=%s queue=%s", info.ID, info.Queue)
	return nil
}

func (q *asyncReconcileQueue) IsAsync() bool { return true }

func (q *asyncReconcileQueue) Close() error { return q.client.Close() }

type inlineReconcileQueue struct {
	reconciler *Reconciler
}

func (q *inlineReconcileQueue) Enqueue(task *ReconcileTask) error {
	return q.reconciler.Run(context.Background())
}

func (q *inlineReconcileQueue) IsAsync() bool { return false }

func (q *inlineReconcileQueue) Close() error { return nil }

// NewReconcileWorker builds the asynq server that consumes reconcile tasks.
// Only started when Redis is enabled.
func NewReconcileWorker(cfg *config.RedisConfig, reconciler *Reconciler) *asynq.Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{"maintenance": 1},
		},
	)
	return srv
}

// ReconcileHandler adapts Reconciler.Run to asynq's handler signature.
func ReconcileHandler(reconciler *Reconciler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var task ReconcileTask
		if err := json.Unmarshal(t.Payload(), &task); err != nil {
			return err
		}
		return reconciler.Run(ctx)
	}
}
