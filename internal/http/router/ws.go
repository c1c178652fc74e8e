package router

import (
	"github.com/gin-gonic/gin"

	"shopscout.app/research/internal/http/handler"
)

func WSRouter(router *gin.RouterGroup, handler *handler.WSHandler) {
	router.GET("/jobs/:job_id", handler.Subscribe)
	router.GET("/stats", handler.Stats)
}
