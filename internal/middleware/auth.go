// Package middleware provides gin middleware for the relay's HTTP surface.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/pkg/logger"
)

const (
	headerAPIKey      = "X-API-Key"
	headerAuth        = "Authorization"
	bearerPrefix      = "Bearer "
	unauthorizedError = "Unauthorized"
)

// APIKeyAuth guards operational endpoints such as /metrics with static API keys.
type APIKeyAuth struct {
	apiKeys map[string]bool
	log     *zap.Logger
}

// NewAPIKeyAuth creates a new API key authentication middleware.
// If no keys are provided, all requests will be rejected.
func NewAPIKeyAuth(apiKeys []string, log *zap.Logger) *APIKeyAuth {
	if log == nil {
		log = logger.Named("auth")
	}

	keyMap := make(map[string]bool, len(apiKeys))
	for _, key := range apiKeys {
		if key != "" {
			keyMap[key] = true
		}
	}

	return &APIKeyAuth{
		apiKeys: keyMap,
		log:     log,
	}
}

// Handler returns a gin middleware that validates API keys.
// It checks the X-API-Key header first, then Authorization: Bearer <key>.
func (a *APIKeyAuth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.isValidAPIKey(a.extractAPIKey(c.Request)) {
			a.log.Warn("Unauthorized request",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.String("clientIp", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": unauthorizedError})
			return
		}
		c.Next()
	}
}

func (a *APIKeyAuth) extractAPIKey(r *http.Request) string {
	if apiKey := r.Header.Get(headerAPIKey); apiKey != "" {
		return apiKey
	}

	authHeader := r.Header.Get(headerAuth)
	if strings.HasPrefix(authHeader, bearerPrefix) {
		return strings.TrimPrefix(authHeader, bearerPrefix)
	}

	return ""
}

// isValidAPIKey compares in constant time against every configured key.
func (a *APIKeyAuth) isValidAPIKey(providedKey string) bool {
	if providedKey == "" || len(a.apiKeys) == 0 {
		return false
	}

	for validKey := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(validKey)) == 1 {
			return true
		}
	}

	return false
}
