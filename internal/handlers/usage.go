package handlers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/internal/middleware"
	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/internal/services"
)

// UsageHandler serves the per-user analytics endpoints. Every endpoint here
// is a metered read: keyed by the caller's models version, so a cached
// distribution survives until the next training run and costs one charge per
// version at most.
type UsageHandler struct {
	usage   *services.UsageService
	gateway *cache.Gateway
	cfg     *config.Config
}

func NewUsageHandler(usage *services.UsageService, gateway *cache.Gateway, cfg *config.Config) *UsageHandler {
	return &UsageHandler{usage: usage, gateway: gateway, cfg: cfg}
}

func (h *UsageHandler) serve(c *gin.Context, endpoint string, compute func(ctx context.Context, userID uint) (interface{}, error)) {
	userID := middleware.GetUserID(c)
	ep := h.cfg.Endpoint(endpoint)

	res, err := h.gateway.GetOrCompute(c.Request.Context(), userID,
		string(models.KindModels), gin.H{"op": endpoint},
		int64(ep.Cost), models.ReasonMetadata,
		func(ctx context.Context) (json.RawMessage, error) {
			data, err := compute(ctx, userID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(data)
		})
	if err != nil {
		fail(c, err)
		return
	}

	meteredResult(c, res)
}

// ModelTypeDistribution counts models per type
// GET /api/usage/model-types
func (h *UsageHandler) ModelTypeDistribution(c *gin.Context) {
	h.serve(c, config.EndpointTypeDist, func(ctx context.Context, userID uint) (interface{}, error) {
		return h.usage.ModelTypeDistribution(ctx, userID)
	})
}

// TaskSplit groups models into regression vs classification
// GET /api/usage/task-split
func (h *UsageHandler) TaskSplit(c *gin.Context) {
	h.serve(c, config.EndpointTypeSplit, func(ctx context.Context, userID uint) (interface{}, error) {
		return h.usage.TaskSplit(ctx, userID)
	})
}

// LabelDistribution counts models per target label
// GET /api/usage/labels
func (h *UsageHandler) LabelDistribution(c *gin.Context) {
	h.serve(c, config.EndpointLabelDist, func(ctx context.Context, userID uint) (interface{}, error) {
		return h.usage.LabelDistribution(ctx, userID)
	})
}

// MetricDistribution summarizes worker-reported metrics across models
// GET /api/usage/metrics
func (h *UsageHandler) MetricDistribution(c *gin.Context) {
	h.serve(c, config.EndpointMetricDist, func(ctx context.Context, userID uint) (interface{}, error) {
		return h.usage.MetricDistribution(ctx, userID)
	})
}
