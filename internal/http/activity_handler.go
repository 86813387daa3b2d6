package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"commonwealth/internal/domain"
)

// ActivityReader expone el feed global de actividad.
type ActivityReader interface {
	GetGlobalActivity(ctx context.Context) ([]domain.ActivityItem, error)
}

type ActivityHandler struct {
	logger   *zap.Logger
	activity ActivityReader
}

func NewActivityHandler(logger *zap.Logger, activity ActivityReader) *ActivityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityHandler{logger: logger, activity: activity}
}

// GlobalActivity maneja GET /activity/global.
func (h *ActivityHandler) GlobalActivity(c *gin.Context) {
	items, err := h.activity.GetGlobalActivity(c.Request.Context())
	if err != nil {
		h.logger.Error("global activity failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load activity"})
		return
	}
	if items == nil {
		items = []domain.ActivityItem{}
	}
	c.JSON(http.StatusOK, gin.H{"activity": items})
}

// Pinger verifica una dependencia (postgres, redis).
type Pinger func(ctx context.Context) error

// Health maneja GET /healthz.
func Health(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := make(gin.H, len(checks))
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				result[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		c.JSON(status, gin.H{"checks": result})
	}
}
