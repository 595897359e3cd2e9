package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mandeltiles/internal/telemetry"
)

func NewRouter(h *Handlers, telemetryEnabled bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware())
	}
	r.Use(h.RequestLoggingMiddleware())

	r.GET("/", h.HandleRoot)
	r.GET("/healthz", h.HandleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/:z/:x/:y", h.HandleTile)
	api.HEAD("/:z/:x/:y", h.HandleTile)

	r.NoRoute(h.HandleStatic)

	return r
}
