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
	"github.com/modelmint/backend/pkg/response"
)

type PredictionHandler struct {
	predictions *services.PredictionService
	gateway     *cache.Gateway
	cfg         *config.Config
}

func NewPredictionHandler(predictions *services.PredictionService, gateway *cache.Gateway, cfg *config.Config) *PredictionHandler {
	return &PredictionHandler{predictions: predictions, gateway: gateway, cfg: cfg}
}

type predictRequest struct {
	ModelID       uint                   `json:"model_id" binding:"required"`
	FeatureValues map[string]interface{} `json:"feature_values" binding:"required"`
}

// Predict runs inference against one of the caller's models
// POST /api/predictions
func (h *PredictionHandler) Predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.predictions.Predict(c.Request.Context(), middleware.GetUserID(c),
		int64(h.cfg.Endpoint(config.EndpointPredict).Cost),
		&services.PredictRequest{
			ModelID:       req.ModelID,
			FeatureValues: req.FeatureValues,
		})
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"prediction": result.Prediction,
		"balance":    result.Balance,
		"charged":    result.Charged,
		"replayed":   result.Replayed,
	})
}

// List returns the caller's completed predictions, served through the cache
// GET /api/predictions
func (h *PredictionHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ep := h.cfg.Endpoint(config.EndpointPredictions)

	res, err := h.gateway.GetOrCompute(c.Request.Context(), userID,
		string(models.KindPredictions), gin.H{"op": "list"},
		int64(ep.Cost), models.ReasonMetadata,
		func(ctx context.Context) (json.RawMessage, error) {
			rows, err := h.predictions.ListPredictions(ctx, userID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(rows)
		})
	if err != nil {
		fail(c, err)
		return
	}

	meteredResult(c, res)
}
