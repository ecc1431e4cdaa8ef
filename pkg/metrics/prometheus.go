package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "aptos_stables"

// Exporter exposes a MetricsCollector snapshot as Prometheus metrics
type Exporter struct {
	collector *MetricsCollector

	requests         *prometheus.Desc
	rateLimited      *prometheus.Desc
	activeRequests   *prometheus.Desc
	cacheLookups     *prometheus.Desc
	upstreamCalls    *prometheus.Desc
	upstreamFailures *prometheus.Desc
	degraded         *prometheus.Desc
	lockWaits        *prometheus.Desc
	avgResponse      *prometheus.Desc
	avgUpstream      *prometheus.Desc
}

// NewExporter creates a prometheus.Collector backed by collector
func NewExporter(collector *MetricsCollector) *Exporter {
	return &Exporter{
		collector: collector,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "requests_total"),
			"HTTP requests handled, by outcome",
			[]string{"outcome"}, nil,
		),
		rateLimited: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "rate_limited_total"),
			"Requests rejected by the per-client rate limiter",
			nil, nil,
		),
		activeRequests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "active_requests"),
			"Requests currently in flight",
			nil, nil,
		),
		cacheLookups: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "lookups_total"),
			"Supply cache lookups, by result",
			[]string{"result"}, nil,
		),
		upstreamCalls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "calls_total"),
			"Batched calls made to the upstream indexer",
			nil, nil,
		),
		upstreamFailures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "failures_total"),
			"Upstream calls that ended in an error",
			nil, nil,
		),
		degraded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "supply", "degraded_responses_total"),
			"Responses served from stale or partial data",
			[]string{"kind"}, nil,
		),
		lockWaits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "supply", "refresh_lock_waits_total"),
			"Refreshes that waited for a concurrent refresh",
			nil, nil,
		),
		avgResponse: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "http", "average_response_seconds"),
			"Average response time",
			nil, nil,
		),
		avgUpstream: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "average_call_seconds"),
			"Average upstream call time including retries",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.requests
	ch <- e.rateLimited
	ch <- e.activeRequests
	ch <- e.cacheLookups
	ch <- e.upstreamCalls
	ch <- e.upstreamFailures
	ch <- e.degraded
	ch <- e.lockWaits
	ch <- e.avgResponse
	ch <- e.avgUpstream
}

// Collect implements prometheus.Collector
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	m := e.collector.GetMetrics()

	ch <- prometheus.MustNewConstMetric(e.requests, prometheus.CounterValue, float64(m.SuccessfulRequests), "success")
	ch <- prometheus.MustNewConstMetric(e.requests, prometheus.CounterValue, float64(m.FailedRequests), "failure")
	ch <- prometheus.MustNewConstMetric(e.rateLimited, prometheus.CounterValue, float64(m.RateLimited))
	ch <- prometheus.MustNewConstMetric(e.activeRequests, prometheus.GaugeValue, float64(m.ActiveRequests))
	ch <- prometheus.MustNewConstMetric(e.cacheLookups, prometheus.CounterValue, float64(m.CacheHits), "hit")
	ch <- prometheus.MustNewConstMetric(e.cacheLookups, prometheus.CounterValue, float64(m.CacheMisses), "miss")
	ch <- prometheus.MustNewConstMetric(e.upstreamCalls, prometheus.CounterValue, float64(m.UpstreamCalls))
	ch <- prometheus.MustNewConstMetric(e.upstreamFailures, prometheus.CounterValue, float64(m.UpstreamFailures))
	ch <- prometheus.MustNewConstMetric(e.degraded, prometheus.CounterValue, float64(m.StaleResponses), "stale")
	ch <- prometheus.MustNewConstMetric(e.degraded, prometheus.CounterValue, float64(m.PartialResponses), "partial")
	ch <- prometheus.MustNewConstMetric(e.lockWaits, prometheus.CounterValue, float64(m.LockWaits))
	ch <- prometheus.MustNewConstMetric(e.avgResponse, prometheus.GaugeValue, m.AverageResponseTime.Seconds())
	ch <- prometheus.MustNewConstMetric(e.avgUpstream, prometheus.GaugeValue, m.AverageUpstreamTime.Seconds())
}

// NewRegistry returns a registry with the exporter plus Go and process collectors
func NewRegistry(collector *MetricsCollector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewExporter(collector),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}
