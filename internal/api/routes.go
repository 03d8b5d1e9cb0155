package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes sets up all routes on the gin router.
func registerRoutes(router *gin.Engine, opts Opts) {
	router.GET("/healthz", handleHealth(opts))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", handleWebSocket(opts))

	api := router.Group("/api", requireUser(opts.Auth))
	api.GET("/notes/:candidateId", handleHistory(opts.Store))
	api.POST("/notes/:candidateId", handlePost(opts.Pipeline))
	api.GET("/notifications", handleNotifications(opts.Store, opts.PreviewLength))
	api.POST("/notifications/:id/read", handleMarkRead(opts.Store))
}

func handleHealth(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, sessions := opts.Registry.Stats()
		status, code := "ok", http.StatusOK
		if err := opts.Store.Ping(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":   status,
			"sessions": sessions,
			"rooms":    rooms,
		})
	}
}
