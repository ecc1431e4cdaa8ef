package middleware

import (
	"net/http"
	"time"

	"github.com/zacharyr0th/aptos-stables/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware creates a middleware that tracks request metrics.
// Partial and not-modified answers count as successes, 429s are tallied separately.
func MetricsMiddleware(metricsCollector *metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// Record request start
		metricsCollector.RecordRequest()

		// Process request
		c.Next()

		duration := time.Since(startTime)
		status := c.Writer.Status()

		if status == http.StatusTooManyRequests {
			metricsCollector.RecordRateLimited()
		}

		metricsCollector.RecordRequestComplete(duration, status < http.StatusBadRequest)
	}
}
