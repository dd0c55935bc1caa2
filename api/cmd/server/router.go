package main

import (
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskManager/api/config"
	"taskManager/api/handlers"
	"taskManager/api/hub"
	"taskManager/api/middleware"
)

func newRouter(cfg *config.Config, logger *zap.Logger, tasks *handlers.TaskHandler, ws *handlers.WebSocketHandler, h *hub.Hub) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.TraceID())
	router.Use(middleware.Logging(logger))
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "task-manager",
			"connections": h.ConnectionCount(),
		})
	})

	tasks.Register(router.Group("/api/v1"))
	ws.Register(router)

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	c.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		middleware.TraceIDHeader,
	}
	c.ExposeHeaders = []string{middleware.TraceIDHeader}
	return c
}
