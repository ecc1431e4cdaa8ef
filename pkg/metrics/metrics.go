package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds performance metrics for the application
type Metrics struct {
	// Request metrics
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
	RateLimited        int64 `json:"rate_limited"`

	// Response time metrics
	AverageResponseTime time.Duration `json:"average_response_time"`
	MinResponseTime     time.Duration `json:"min_response_time"`
	MaxResponseTime     time.Duration `json:"max_response_time"`

	// Cache metrics
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Upstream metrics
	UpstreamCalls       int64         `json:"upstream_calls"`
	UpstreamFailures    int64         `json:"upstream_failures"`
	AverageUpstreamTime time.Duration `json:"average_upstream_time"`

	// Degradation metrics
	StaleResponses   int64 `json:"stale_responses"`
	PartialResponses int64 `json:"partial_responses"`

	// Concurrency metrics
	ActiveRequests int64 `json:"active_requests"`
	LockWaits      int64 `json:"lock_waits"`

	// Internal fields for calculations
	totalResponseTime time.Duration
	totalUpstreamTime time.Duration
	completed         int64
	mutex             sync.RWMutex
}

// MetricsCollector provides thread-safe metrics collection
type MetricsCollector struct {
	metrics   *Metrics
	startTime time.Time
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: &Metrics{
			MinResponseTime: time.Duration(^uint64(0) >> 1), // Max duration
		},
		startTime: time.Now(),
	}
}

// RecordRequest records a new request
func (mc *MetricsCollector) RecordRequest() {
	atomic.AddInt64(&mc.metrics.TotalRequests, 1)
	atomic.AddInt64(&mc.metrics.ActiveRequests, 1)
}

// RecordRequestComplete records request completion
func (mc *MetricsCollector) RecordRequestComplete(duration time.Duration, success bool) {
	atomic.AddInt64(&mc.metrics.ActiveRequests, -1)

	if success {
		atomic.AddInt64(&mc.metrics.SuccessfulRequests, 1)
	} else {
		atomic.AddInt64(&mc.metrics.FailedRequests, 1)
	}

	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	mc.metrics.totalResponseTime += duration
	mc.metrics.completed++

	if duration < mc.metrics.MinResponseTime {
		mc.metrics.MinResponseTime = duration
	}

	if duration > mc.metrics.MaxResponseTime {
		mc.metrics.MaxResponseTime = duration
	}

	mc.metrics.AverageResponseTime = mc.metrics.totalResponseTime / time.Duration(mc.metrics.completed)
}

// RecordRateLimited records a request rejected by the rate limiter
func (mc *MetricsCollector) RecordRateLimited() {
	atomic.AddInt64(&mc.metrics.RateLimited, 1)
}

// RecordCacheHit records a cache hit
func (mc *MetricsCollector) RecordCacheHit() {
	atomic.AddInt64(&mc.metrics.CacheHits, 1)
}

// RecordCacheMiss records a cache miss
func (mc *MetricsCollector) RecordCacheMiss() {
	atomic.AddInt64(&mc.metrics.CacheMisses, 1)
}

// RecordUpstreamCall records one outbound call including its retries
func (mc *MetricsCollector) RecordUpstreamCall(duration time.Duration, success bool) {
	atomic.AddInt64(&mc.metrics.UpstreamCalls, 1)

	if !success {
		atomic.AddInt64(&mc.metrics.UpstreamFailures, 1)
	}

	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	mc.metrics.totalUpstreamTime += duration

	totalCalls := atomic.LoadInt64(&mc.metrics.UpstreamCalls)
	if totalCalls > 0 {
		mc.metrics.AverageUpstreamTime = mc.metrics.totalUpstreamTime / time.Duration(totalCalls)
	}
}

// RecordStaleResponse records an answer served from stale data after an upstream failure
func (mc *MetricsCollector) RecordStaleResponse() {
	atomic.AddInt64(&mc.metrics.StaleResponses, 1)
}

// RecordPartialResponse records a 206 answer
func (mc *MetricsCollector) RecordPartialResponse() {
	atomic.AddInt64(&mc.metrics.PartialResponses, 1)
}

// RecordLockWait records a refresh that waited on another in-flight refresh
func (mc *MetricsCollector) RecordLockWait() {
	atomic.AddInt64(&mc.metrics.LockWaits, 1)
}

// GetMetrics returns a copy of current metrics
func (mc *MetricsCollector) GetMetrics() *Metrics {
	mc.metrics.mutex.RLock()
	defer mc.metrics.mutex.RUnlock()

	minResponse := mc.metrics.MinResponseTime
	if mc.metrics.completed == 0 {
		minResponse = 0
	}

	return &Metrics{
		TotalRequests:       atomic.LoadInt64(&mc.metrics.TotalRequests),
		SuccessfulRequests:  atomic.LoadInt64(&mc.metrics.SuccessfulRequests),
		FailedRequests:      atomic.LoadInt64(&mc.metrics.FailedRequests),
		RateLimited:         atomic.LoadInt64(&mc.metrics.RateLimited),
		AverageResponseTime: mc.metrics.AverageResponseTime,
		MinResponseTime:     minResponse,
		MaxResponseTime:     mc.metrics.MaxResponseTime,
		CacheHits:           atomic.LoadInt64(&mc.metrics.CacheHits),
		CacheMisses:         atomic.LoadInt64(&mc.metrics.CacheMisses),
		UpstreamCalls:       atomic.LoadInt64(&mc.metrics.UpstreamCalls),
		UpstreamFailures:    atomic.LoadInt64(&mc.metrics.UpstreamFailures),
		AverageUpstreamTime: mc.metrics.AverageUpstreamTime,
		StaleResponses:      atomic.LoadInt64(&mc.metrics.StaleResponses),
		PartialResponses:    atomic.LoadInt64(&mc.metrics.PartialResponses),
		ActiveRequests:      atomic.LoadInt64(&mc.metrics.ActiveRequests),
		LockWaits:           atomic.LoadInt64(&mc.metrics.LockWaits),
	}
}

// GetUptime returns the uptime since metrics collection started
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.metrics.mutex.Lock()
	defer mc.metrics.mutex.Unlock()

	atomic.StoreInt64(&mc.metrics.TotalRequests, 0)
	atomic.StoreInt64(&mc.metrics.SuccessfulRequests, 0)
	atomic.StoreInt64(&mc.metrics.FailedRequests, 0)
	atomic.StoreInt64(&mc.metrics.RateLimited, 0)
	atomic.StoreInt64(&mc.metrics.CacheHits, 0)
	atomic.StoreInt64(&mc.metrics.CacheMisses, 0)
	atomic.StoreInt64(&mc.metrics.UpstreamCalls, 0)
	atomic.StoreInt64(&mc.metrics.UpstreamFailures, 0)
	atomic.StoreInt64(&mc.metrics.StaleResponses, 0)
	atomic.StoreInt64(&mc.metrics.PartialResponses, 0)
	atomic.StoreInt64(&mc.metrics.ActiveRequests, 0)
	atomic.StoreInt64(&mc.metrics.LockWaits, 0)

	mc.metrics.AverageResponseTime = 0
	mc.metrics.MinResponseTime = time.Duration(^uint64(0) >> 1)
	mc.metrics.MaxResponseTime = 0
	mc.metrics.AverageUpstreamTime = 0
	mc.metrics.totalResponseTime = 0
	mc.metrics.totalUpstreamTime = 0
	mc.metrics.completed = 0

	mc.startTime = time.Now()
}

// GetCacheHitRatio returns the cache hit ratio as a percentage
func (mc *MetricsCollector) GetCacheHitRatio() float64 {
	hits := atomic.LoadInt64(&mc.metrics.CacheHits)
	misses := atomic.LoadInt64(&mc.metrics.CacheMisses)
	total := hits + misses

	if total == 0 {
		return 0.0
	}

	return float64(hits) / float64(total) * 100.0
}

// GetSuccessRate returns the success rate as a percentage
func (mc *MetricsCollector) GetSuccessRate() float64 {
	successful := atomic.LoadInt64(&mc.metrics.SuccessfulRequests)
	total := atomic.LoadInt64(&mc.metrics.TotalRequests)

	if total == 0 {
		return 0.0
	}

	return float64(successful) / float64(total) * 100.0
}
