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

// assistKind never has its version bumped, so identical questions are served
// from the cache for the full TTL and charged once.
const assistKind = "assist"

type AssistHandler struct {
	assist  *services.AssistService
	gateway *cache.Gateway
	cfg     *config.Config
}

func NewAssistHandler(assist *services.AssistService, gateway *cache.Gateway, cfg *config.Config) *AssistHandler {
	return &AssistHandler{assist: assist, gateway: gateway, cfg: cfg}
}

// Explain answers a modeling question through the LLM
// POST /api/assist
func (h *AssistHandler) Explain(c *gin.Context) {
	var req services.AssistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if !h.assist.Enabled() {
		response.Error(c, response.NewServerError("assist is not configured"))
		return
	}

	userID := middleware.GetUserID(c)
	ep := h.cfg.Endpoint(config.EndpointAssist)

	res, err := h.gateway.GetOrCompute(c.Request.Context(), userID,
		assistKind, req,
		int64(ep.Cost), models.ReasonAssist,
		func(ctx context.Context) (json.RawMessage, error) {
			answer, err := h.assist.Explain(ctx, &req)
			if err != nil {
				return nil, err
			}
			return json.Marshal(gin.H{"answer": answer})
		})
	if err != nil {
		fail(c, err)
		return
	}

	meteredResult(c, res)
}
