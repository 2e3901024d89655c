package middleware

import (
	"strconv"
	"time"

	"github.com/GoPolymarket/logbridge/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records latency and status class per route. Labels use
// the route template so /v1/log/:level stays one series whatever level the
// client posts; requests that match no route share "unmatched".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		endpoint := routeOf(c)
		metrics.LatencyBucket.WithLabelValues(endpoint).Observe(duration)
		metrics.Responses.WithLabelValues(endpoint, statusClass(c.Writer.Status())).Inc()
	}
}

func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
