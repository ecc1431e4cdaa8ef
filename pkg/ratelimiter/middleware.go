package ratelimiter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zacharyr0th/aptos-stables/internal/models"
	"github.com/zacharyr0th/aptos-stables/pkg/logger"
)

// DecisionKey is the gin context key holding the Decision for the current request
const DecisionKey = "rate_limit_decision"

// ClientIdentifier trusts the first X-Forwarded-For entry, then X-Real-IP, else "unknown"
func ClientIdentifier(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		return realIP
	}

	return "unknown"
}

// Middleware creates a Gin middleware for rate limiting.
// Every response carries the rate limit headers, admitted or not.
func (rl *RateLimiter) Middleware(identify func(*gin.Context) string) gin.HandlerFunc {
	if identify == nil {
		identify = ClientIdentifier
	}

	return func(c *gin.Context) {
		clientID := identify(c)
		decision := rl.Check(clientID)
		c.Request = c.Request.WithContext(logger.ContextWithClientID(c.Request.Context(), clientID))

		setHeaders(c, decision)
		c.Set(DecisionKey, decision)

		if !decision.Allowed {
			seconds := RetryAfterSeconds(decision.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.Header("Cache-Control", "no-store")

			c.AbortWithStatusJSON(models.ErrorCodeRateLimitExceeded.HTTPStatusCode(), models.ErrorResponse{
				Error:         models.ErrorCodeRateLimitExceeded,
				Message:       fmt.Sprintf("Too many requests. Please try again in %d seconds.", seconds),
				CorrelationID: logger.GetCorrelationIDFromContext(c.Request.Context()),
			})
			return
		}

		c.Next()
	}
}

// RetryAfterSeconds rounds a retry hint up to whole seconds, never below one
func RetryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func setHeaders(c *gin.Context, d Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	c.Header("X-RateLimit-Burst-Remaining", strconv.Itoa(d.BurstRemaining))
}
