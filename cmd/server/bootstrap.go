package main

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/compute"
	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/internal/handlers"
	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/internal/services"
	"github.com/modelmint/backend/internal/utils"
	"github.com/modelmint/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	store      cache.Store
	reconciler *services.Reconciler
	queue      services.ReconcileQueue
	worker     *asynq.Server

	authHandler       *handlers.AuthHandler
	creditsHandler    *handlers.CreditsHandler
	modelHandler      *handlers.ModelHandler
	predictionHandler *handlers.PredictionHandler
	usageHandler      *handlers.UsageHandler
	assistHandler     *handlers.AssistHandler
	healthHandler     *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, cache store,
// services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	// Cache store: Redis when enabled, in-process fallback otherwise. The
	// fallback keeps single-instance deployments working without Redis.
	var store cache.Store
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, using in-process cache store")
			store = cache.NewMemoryStore()
		} else {
			logger.Infof("Cache store: redis at %s", cfg.Redis.Addr)
			store = redisStore
		}
	} else {
		logger.Info().Msg("Cache store: in-process (Redis disabled)")
		store = cache.NewMemoryStore()
	}

	// Core services
	ledger := services.NewLedger(db, int64(cfg.Billing.MaxTokensPerPurchase))
	versions := services.NewVersionRegistry(db)
	gateway := cache.NewGateway(store, versions, ledger, &cfg.Cache)

	engine := compute.NewSubprocessEngine(&cfg.Trainer)
	authService := services.NewAuthService(db, &cfg.JWT, versions)
	training := services.NewTrainingService(db, ledger, versions, engine, cfg.Trainer.ArtifactDir)
	predictions := services.NewPredictionService(db, ledger, versions, training, engine)
	usage := services.NewUsageService(db)
	assist := services.NewAssistService(&cfg.OpenAI)

	// Reconciler: one sweep at startup for rows orphaned by a crash, then
	// hourly.
	reconciler := services.NewReconciler(db, cfg.Trainer.ArtifactDir)
	if err := reconciler.Run(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Startup reconcile failed")
	}
	reconciler.StartScheduler()

	queue := services.NewReconcileQueue(&cfg.Redis, reconciler)

	// Start the asynq worker only when the queue actually is async.
	var worker *asynq.Server
	if queue.IsAsync() {
		worker = services.NewReconcileWorker(&cfg.Redis, reconciler)
		mux := asynq.NewServeMux()
		mux.Handle(services.TaskTypeReconcile, services.ReconcileHandler(reconciler))
		go func() {
			if err := worker.Run(mux); err != nil {
				logger.Error().Err(err).Msg("Reconcile worker stopped")
			}
		}()
	}

	return &appServices{
		store:      store,
		reconciler: reconciler,
		queue:      queue,
		worker:     worker,

		authHandler:       handlers.NewAuthHandler(authService, int64(cfg.Billing.InitialTokens)),
		creditsHandler:    handlers.NewCreditsHandler(ledger),
		modelHandler:      handlers.NewModelHandler(training, gateway, cfg),
		predictionHandler: handlers.NewPredictionHandler(predictions, gateway, cfg),
		usageHandler:      handlers.NewUsageHandler(usage, gateway, cfg),
		assistHandler:     handlers.NewAssistHandler(assist, gateway, cfg),
		healthHandler:     handlers.NewHealthHandler(store, queue),
	}
}

// shutdown gracefully stops all background services.
func (s *appServices) shutdown() {
	s.reconciler.StopScheduler()
	if s.worker != nil {
		s.worker.Shutdown()
	}
	if s.queue != nil {
		s.queue.Close()
	}
	logger.Info().Msg("All background services stopped")
}
