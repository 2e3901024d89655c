package middleware

import (
	"strings"
	"time"

	"github.com/GoPolymarket/logbridge/internal/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID  = "X-Request-ID"
	ContextRequestID = "request_id"
)

// RequestMiddleware tags every request with an id (the caller's, when it
// sends a sane one) and writes one access log line after the handler ran.
func RequestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := sanitizeRequestID(c.GetHeader(HeaderRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Header(HeaderRequestID, reqID)
		c.Set(ContextRequestID, reqID)

		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"client_ip", c.ClientIP(),
			"latency_ms", time.Since(start).Milliseconds(),
			"user_agent", c.Request.UserAgent(),
		}
		if status >= 500 {
			logger.Warn("request failed", fields...)
		} else {
			logger.Debug("request", fields...)
		}
	}
}

// RequestID returns the id RequestMiddleware stored, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(ContextRequestID)
}

func sanitizeRequestID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 64 {
		return ""
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || r == '.' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return ""
		}
	}
	return id
}
