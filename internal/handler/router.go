package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/metrics"
	"github.com/lightrelay/notification-relay/internal/middleware"
	"github.com/lightrelay/notification-relay/internal/models"
)

// Callback paths per source kind.
const (
	PathVideo      = "/youtube"
	PathLivestream = "/twitch"
	PathBlog       = "/blog"
)

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	SiteVerification string
	MetricsAPIKeys   []string
}

// NewRouter builds the gin engine serving callbacks, verification, health and metrics.
func NewRouter(cfg RouterConfig, callbacks *CallbackHandler, health *HealthHandler, m *metrics.Metrics, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestLogger(log))

	for path, kind := range map[string]models.SourceKind{
		PathVideo:      models.SourceVideo,
		PathLivestream: models.SourceLivestream,
		PathBlog:       models.SourceBlogPost,
	} {
		r.POST(path, callbacks.Notify(kind))
		r.GET(path, callbacks.Challenge(kind))
	}

	if cfg.SiteVerification != "" {
		r.GET("/"+cfg.SiteVerification, SiteVerification(cfg.SiteVerification))
	}

	r.GET("/health/live", health.LivenessProbe)
	r.GET("/health/ready", health.ReadinessProbe)

	metricsHandler := gin.WrapH(m.Handler())
	if len(cfg.MetricsAPIKeys) > 0 {
		r.GET("/metrics", middleware.NewAPIKeyAuth(cfg.MetricsAPIKeys, log).Handler(), metricsHandler)
	} else {
		r.GET("/metrics", metricsHandler)
	}

	return r
}
