// Package handler provides HTTP request handlers for the application.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MirrorHealth reports whether the event mirror is connected.
type MirrorHealth interface {
	IsHealthy() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db     Pinger
	mirror MirrorHealth
}

// NewHealthHandler creates a new HealthHandler instance. mirror may be nil when the
// event mirror is disabled.
func NewHealthHandler(db Pinger, mirror MirrorHealth) *HealthHandler {
	return &HealthHandler{
		db:     db,
		mirror: mirror,
	}
}

// LivenessProbe checks if the application is running.
func (h *HealthHandler) LivenessProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "UP",
		"time":   time.Now(),
	})
}

// ReadinessProbe checks if the application is ready to serve traffic.
func (h *HealthHandler) ReadinessProbe(c *gin.Context) {
	ctx := c.Request.Context()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "DOWN",
				"database": "unhealthy",
				"error":    err.Error(),
				"time":     time.Now(),
			})
			return
		}
	}

	mirror := "disabled"
	if h.mirror != nil {
		if !h.mirror.IsHealthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "DOWN",
				"rabbitmq": "unhealthy",
				"time":     time.Now(),
			})
			return
		}
		mirror = "healthy"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "UP",
		"database": "healthy",
		"rabbitmq": mirror,
		"time":     time.Now(),
	})
}
