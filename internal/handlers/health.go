package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/internal/services"
)

// HealthHandler reports the status of the platform's subsystems.
type HealthHandler struct {
	store cache.Store
	queue services.ReconcileQueue
}

func NewHealthHandler(store cache.Store, queue services.ReconcileQueue) *HealthHandler {
	return &HealthHandler{store: store, queue: queue}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	cacheStatus := "ok"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		cacheStatus = "error: " + err.Error()
		// The cache store is not load-bearing for health: requests still
		// work in fail-open mode.
		if overall == "healthy" {
			overall = "degraded"
		}
	}

	queueMode := "inline"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (redis)"
	}

	var pendingJobs int64
	models.GetDB().Model(&models.TrainedModel{}).
		Where("status = ?", models.StatusPending).
		Count(&pendingJobs)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "modelmint",
		"components": gin.H{
			"database":          dbStatus,
			"cache":             cacheStatus,
			"queue_mode":        queueMode,
			"pending_trainings": pendingJobs,
		},
	})
}
