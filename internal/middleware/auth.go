package middleware

import (
	"crypto/subtle"

	"github.com/GoPolymarket/logbridge/internal/config"
	"github.com/GoPolymarket/logbridge/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

const HeaderLogKey = "X-Log-Key"

// AuthMiddleware guards the ingest endpoints with a shared key. Browsers
// cannot keep secrets, so the key only filters out stray traffic; with no
// key configured every request passes.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.APIKey == "" {
			c.Next()
			return
		}
		key := c.GetHeader(HeaderLogKey)
		if key == "" {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "missing API key", nil))
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Auth.APIKey)) != 1 {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "invalid API key", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
