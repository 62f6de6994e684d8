package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/rail-service/invest_bot/internal/api/handlers"
	"github.com/rail-service/invest_bot/internal/api/middleware"
	"github.com/rail-service/invest_bot/internal/infrastructure/di"
)

// SetupRoutes configures the operational HTTP surface
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.SecurityHeaders())

	router.GET("/health", container.CoreHandlers.Health)
	router.GET("/health/live", container.CoreHandlers.Live)
	router.GET("/metrics", handlers.Metrics())

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(container.Config.Server.RateLimitPerMin))
	{
		v1.GET("/autobuy/status", container.AutobuyHandlers.GetStatus)
		v1.GET("/market/:kind", container.AutobuyHandlers.GetBoard)
	}

	return router
}
