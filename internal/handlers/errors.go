package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/compute"
	"github.com/modelmint/backend/internal/services"
	"github.com/modelmint/backend/pkg/logger"
	"github.com/modelmint/backend/pkg/response"
)

// fail maps service-layer sentinel errors onto the API error taxonomy and
// writes the response. Anything unmapped is a 500.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrExpiredToken):
		response.Error(c, response.NewUnauthenticated(err.Error()))

	case errors.Is(err, services.ErrSessionCompromised):
		response.Error(c, response.NewSessionCompromised(err.Error()))

	case errors.Is(err, services.ErrUserDisabled):
		response.Error(c, response.NewForbidden(err.Error()))

	case errors.Is(err, services.ErrUsernameTaken),
		errors.Is(err, services.ErrRemainingBalance):
		response.Error(c, response.NewConflict(err.Error()))

	case errors.Is(err, services.ErrInsufficientBalance):
		response.Error(c, response.NewInsufficientBalance(err.Error()))

	case errors.Is(err, services.ErrBalanceNotZero),
		errors.Is(err, services.ErrInvalidPurchaseAmount),
		errors.Is(err, services.ErrUnknownModelType):
		response.Error(c, response.NewBadRequest(err.Error()))

	case errors.Is(err, services.ErrPurchaseInProgress),
		errors.Is(err, services.ErrTrainingInProgress),
		errors.Is(err, services.ErrPredictionInProgress):
		response.Error(c, response.NewConflict(err.Error()))

	case errors.Is(err, services.ErrModelNotFound):
		response.Error(c, response.NewNotFound(err.Error()))

	case errors.Is(err, compute.ErrEngine),
		errors.Is(err, cache.ErrCompute),
		errors.Is(err, services.ErrAssistFailed):
		response.Error(c, response.NewComputeFailed(err.Error()))

	case errors.Is(err, cache.ErrStoreUnavailable):
		response.Error(c, response.NewCacheUnavailable("cache store unavailable"))

	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled request error")
		response.Error(c, response.NewServerError("internal server error"))
	}
}
