package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/internal/middleware"
	"github.com/modelmint/backend/internal/models"
	"github.com/modelmint/backend/internal/services"
	"github.com/modelmint/backend/pkg/response"
)

type ModelHandler struct {
	training *services.TrainingService
	gateway  *cache.Gateway
	cfg      *config.Config
}

func NewModelHandler(training *services.TrainingService, gateway *cache.Gateway, cfg *config.Config) *ModelHandler {
	return &ModelHandler{training: training, gateway: gateway, cfg: cfg}
}

// meteredResult is the response shape shared by every gateway-served read.
func meteredResult(c *gin.Context, res *cache.Result) {
	response.Success(c, gin.H{
		"data":    res.Payload,
		"cached":  res.Hit,
		"charged": res.Charged,
		"balance": res.Balance,
	})
}

// Train runs a training job on an uploaded CSV dataset
// POST /api/models/train  (multipart/form-data)
func (h *ModelHandler) Train(c *gin.Context) {
	file, err := c.FormFile("dataset")
	if err != nil {
		response.BadRequest(c, "a csv dataset upload named 'dataset' is required")
		return
	}

	features := splitList(c.PostForm("features"))
	label := strings.TrimSpace(c.PostForm("label"))
	modelType := strings.TrimSpace(c.PostForm("model_type"))

	params := map[string]interface{}{}
	if raw := c.PostForm("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			response.BadRequest(c, "params must be a JSON object")
			return
		}
	}

	csvPath := filepath.Join(os.TempDir(), fmt.Sprintf("modelmint-upload-%s.csv", uuid.NewString()))
	if err := c.SaveUploadedFile(file, csvPath); err != nil {
		fail(c, err)
		return
	}
	defer os.Remove(csvPath)

	result, err := h.training.Train(c.Request.Context(), middleware.GetUserID(c),
		int64(h.cfg.Endpoint(config.EndpointTrain).Cost),
		&services.TrainRequest{
			CSVPath:   csvPath,
			Features:  features,
			Label:     label,
			ModelType: modelType,
			Params:    params,
		})
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"model":    result.Model,
		"balance":  result.Balance,
		"charged":  result.Charged,
		"replayed": result.Replayed,
	})
}

// List returns the caller's completed models, served through the cache
// GET /api/models
func (h *ModelHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ep := h.cfg.Endpoint(config.EndpointModels)

	res, err := h.gateway.GetOrCompute(c.Request.Context(), userID,
		string(models.KindModels), gin.H{"op": "list"},
		int64(ep.Cost), models.ReasonMetadata,
		func(ctx context.Context) (json.RawMessage, error) {
			rows, err := h.training.ListModels(ctx, userID)
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

// Get returns one of the caller's models
// GET /api/models/:id
func (h *ModelHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid model id")
		return
	}

	model, err := h.training.GetModel(c.Request.Context(), middleware.GetUserID(c), uint(id))
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, model)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
