package router

import (
	"github.com/gin-gonic/gin"

	"shopscout.app/research/internal/http/handler"
)

func HealthRouter(router *gin.RouterGroup, handler *handler.HealthHandler) {
	router.GET("", handler.Health)
	router.GET("/status", handler.Status)
	router.GET("/circuit-breakers", handler.CircuitBreakers)
	router.POST("/circuit-breakers/reset", handler.ResetCircuitBreakers)
	router.GET("/ready", handler.Ready)
	router.GET("/live", handler.Live)
}
