package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/settlement-reconciler/internal/config"
	"github.com/settlement-reconciler/internal/platform/metrics"
	"github.com/settlement-reconciler/internal/platform/persistence"
)

// newMetricsServer exposes prometheus metrics and a liveness probe for the worker
func newMetricsServer(cfg *config.Config, registry *prometheus.Registry, pg *persistence.PostgresDB, mongoDB *persistence.MongoDB) *http.Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler(registry)))
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"postgres": "ok", "mongodb": "ok"}
		status := http.StatusOK
		if err := pg.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := mongoDB.Ping(ctx); err != nil {
			checks["mongodb"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"checks": checks})
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
