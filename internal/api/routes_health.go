package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/app"
	"github.com/charlesng35/authgate/internal/handlers"
)

const defaultMetricsPath = "/metrics"

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, cfg app.MonitoringConfig) {
	health := handlers.Health(db)
	r.GET("/health", health)
	r.GET("/api/health", health)

	if !cfg.Prometheus.Enabled {
		return
	}
	path := strings.TrimSpace(cfg.Prometheus.Endpoint)
	if path == "" {
		path = defaultMetricsPath
	}
	r.GET(path, gin.WrapH(promhttp.Handler()))
}
