package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"ozzus/agent-upkeep/internal/api/http/middleware"
)

func NewRouter(healthController *HealthController, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(log), middleware.Logger(log))

	router.GET("/health", healthController.Health)
	router.GET("/ready", healthController.Ready)
	router.GET("/status", healthController.Status)
	router.GET("/info", healthController.Info)
	router.GET("/accounts", healthController.Accounts)
	router.GET("/accounts/:account", healthController.Account)

	return router
}
