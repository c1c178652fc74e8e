package router

import (
	"github.com/gin-gonic/gin"

	"shopscout.app/research/core/config"
	"shopscout.app/research/internal/breaker"
	"shopscout.app/research/internal/http/handler"
	"shopscout.app/research/internal/service"
	"shopscout.app/research/internal/ws"
)

type RouterConfig struct {
	MaxBatchSize int
	WebSocket    config.WebSocketConfig
}

func SetupRoutes(router *gin.Engine, services *service.Services, manager *ws.ConnectionManager, breakers *breaker.Registry, cfg RouterConfig) {
	v1 := router.Group("/api/v1")
	{
		researchHandler := handler.NewResearchHandler(services.Orchestrator(), services.Jobs(), cfg.MaxBatchSize)
		ResearchRouter(v1.Group("/research/products"), researchHandler)

		healthHandler := handler.NewHealthHandler(breakers, services.Orchestrator())
		HealthRouter(v1.Group("/health"), healthHandler)
	}

	wsHandler := handler.NewWSHandler(manager, services.Jobs(), cfg.WebSocket)
	WSRouter(router.Group("/ws"), wsHandler)
}
