package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/database"
	"github.com/charlesng35/authgate/pkg/errors"
	"github.com/charlesng35/authgate/pkg/logger"
	"github.com/charlesng35/authgate/pkg/response"
)

const healthCheckTimeout = 2 * time.Second

var errDatabaseUnavailable = errors.New("SERVICE_UNAVAILABLE", "Database unavailable", http.StatusServiceUnavailable)

// Health reports readiness. A failing database ping yields 503.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(requestContext(c), healthCheckTimeout)
			defer cancel()
			if err := database.Ping(ctx, db); err != nil {
				logger.WithModule("health").Warn("database ping failed", zap.Error(err))
				response.Error(c, errDatabaseUnavailable.WithInternal(err))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
