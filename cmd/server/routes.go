package main

import (
	"github.com/gin-gonic/gin"

	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/internal/middleware"
	"github.com/modelmint/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine. Protected
// routes run the pipeline in a fixed order: authenticate, then rate-limit
// against the authenticated user, then the handler. A throttled request never
// reaches billable work.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	limit := func(endpoint string) gin.HandlerFunc {
		return middleware.EndpointLimit(svc.store, endpoint, cfg.Endpoint(endpoint))
	}

	// Coarse per-IP shedding in front of the public auth routes.
	authLimiter := middleware.NewIPRateLimiter(10, 20)

	// Health check
	r.GET("/health", svc.healthHandler.CheckHealth)

	api := r.Group("/api")
	{
		// Auth routes (public, rate-limited per client IP)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/register", limit(config.EndpointRegister), svc.authHandler.Register)
			auth.POST("/login", limit(config.EndpointLogin), svc.authHandler.Login)
			auth.POST("/refresh", limit(config.EndpointRefresh), svc.authHandler.Refresh)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.Me)
			protected.POST("/auth/logout", limit(config.EndpointLogout), svc.authHandler.Logout)
			protected.DELETE("/auth/account", limit(config.EndpointDelete), svc.authHandler.DeleteAccount)

			// Credits
			protected.POST("/credits/buy", limit(config.EndpointBuyTokens), svc.creditsHandler.BuyTokens)
			protected.GET("/credits/balance", svc.creditsHandler.Balance)
			protected.GET("/credits/history", limit(config.EndpointHistory), svc.creditsHandler.History)

			// Models
			protected.POST("/models/train", limit(config.EndpointTrain), svc.modelHandler.Train)
			protected.GET("/models", limit(config.EndpointModels), svc.modelHandler.List)
			protected.GET("/models/:id", limit(config.EndpointModels), svc.modelHandler.Get)

			// Predictions
			protected.POST("/predictions", limit(config.EndpointPredict), svc.predictionHandler.Predict)
			protected.GET("/predictions", limit(config.EndpointPredictions), svc.predictionHandler.List)

			// Usage analytics
			protected.GET("/usage/model-types", limit(config.EndpointTypeDist), svc.usageHandler.ModelTypeDistribution)
			protected.GET("/usage/task-split", limit(config.EndpointTypeSplit), svc.usageHandler.TaskSplit)
			protected.GET("/usage/labels", limit(config.EndpointLabelDist), svc.usageHandler.LabelDistribution)
			protected.GET("/usage/metrics", limit(config.EndpointMetricDist), svc.usageHandler.MetricDistribution)

			// Assist
			protected.POST("/assist", limit(config.EndpointAssist), svc.assistHandler.Explain)
		}
	}
}
