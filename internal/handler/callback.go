package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/metrics"
	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/relay"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// Processor runs one callback body through the pipeline.
type Processor interface {
	Process(ctx context.Context, kind models.SourceKind, body []byte) (*relay.Result, error)
}

// Spawner runs detached tasks.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// CallbackHandler receives hub push callbacks. It always answers with an empty 200 and
// processes the body on a detached task so hubs never redeliver because of slow lookups.
type CallbackHandler struct {
	processor Processor
	spawner   Spawner
	metrics   *metrics.Metrics
	maxBody   int64
}

// NewCallbackHandler creates a new CallbackHandler. maxBody <= 0 disables the size limit.
func NewCallbackHandler(processor Processor, spawner Spawner, m *metrics.Metrics, maxBody int64) *CallbackHandler {
	return &CallbackHandler{
		processor: processor,
		spawner:   spawner,
		metrics:   m,
		maxBody:   maxBody,
	}
}

// Notify returns the POST handler for callbacks of kind.
func (h *CallbackHandler) Notify(kind models.SourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Status(http.StatusOK)
		h.metrics.CallbackReceived(string(kind))

		body, err := h.readBody(c)
		if err != nil {
			logger.Log.Warn("Dropped unreadable callback",
				zap.String("sourceKind", string(kind)),
				zap.Error(err),
			)
			return
		}

		accepted := h.spawner.Go("callback:"+string(kind), func(ctx context.Context) error {
			_, err := h.processor.Process(ctx, kind, body)
			return err
		})
		if !accepted {
			logger.Log.Warn("Dropped callback during shutdown", zap.String("sourceKind", string(kind)))
		}
	}
}

// Challenge echoes hub.challenge to confirm a subscription request.
func (h *CallbackHandler) Challenge(kind models.SourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		challenge := c.Query("hub.challenge")
		if challenge == "" {
			logger.Log.Warn("Verification request missing hub.challenge", zap.String("sourceKind", string(kind)))
			c.String(http.StatusBadRequest, "missing hub.challenge")
			return
		}

		logger.Log.Info("Subscription verification request",
			zap.String("sourceKind", string(kind)),
			zap.String("mode", c.Query("hub.mode")),
			zap.String("topic", c.Query("hub.topic")),
			zap.String("leaseSeconds", c.Query("hub.lease_seconds")),
		)
		c.String(http.StatusOK, challenge)
	}
}

// SiteVerification serves the static ownership proof for token.
func SiteVerification(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "google-site-verification: "+token)
	}
}

func (h *CallbackHandler) readBody(c *gin.Context) ([]byte, error) {
	r := c.Request.Body
	if h.maxBody > 0 {
		r = http.MaxBytesReader(c.Writer, r, h.maxBody)
	}
	defer r.Close()
	return io.ReadAll(r)
}
