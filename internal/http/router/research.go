package router

import (
	"github.com/gin-gonic/gin"

	"shopscout.app/research/internal/http/handler"
)

func ResearchRouter(router *gin.RouterGroup, handler *handler.ResearchHandler) {
	router.POST("", handler.Create)
	router.GET("/:job_id", handler.GetResults)
	router.GET("/:job_id/status", handler.GetStatus)
	router.DELETE("/:job_id", handler.Cancel)
}
