package middleware

import (
	"strconv"
	"time"

	"github.com/zacharyr0th/aptos-stables/pkg/logger"
	"github.com/zacharyr0th/aptos-stables/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SlowRequestMiddleware logs requests slower than threshold
func SlowRequestMiddleware(threshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		if duration < threshold {
			return
		}

		logger.GetLogger().WithContext(c.Request.Context()).Warn("Slow request",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status_code", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.Duration("threshold", threshold),
		)
	}
}

// ConcurrencyMiddleware tracks active request count
func ConcurrencyMiddleware(metricsCollector *metrics.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Add concurrency tracking header
		activeRequests := metricsCollector.GetMetrics().ActiveRequests
		c.Header("X-Active-Requests", strconv.FormatInt(activeRequests, 10))

		c.Next()
	}
}
