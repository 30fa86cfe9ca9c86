package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics is the scrape-facing Prometheus registry, wired independently
// of pkg/metrics.Registry's hand-rolled admin snapshot: this one exists
// purely so a real Prometheus server can scrape /metrics.
type promMetrics struct {
	requestsTotal         *prometheus.CounterVec
	blockedTotal          *prometheus.CounterVec
	piiDetectionsTotal    *prometheus.CounterVec
	promptInjectionsTotal *prometheus.CounterVec
	rateLimitViolations   *prometheus.CounterVec
	requestsByStatusTotal *prometheus.CounterVec
	latencySeconds        *prometheus.HistogramVec
	auditQueueSize        prometheus.GaugeFunc
}

func newPromMetrics(reg *prometheus.Registry, queueSize func() float64) *promMetrics {
	factory := promauto.With(reg)
	m := &promMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "firewall_requests_total",
			Help: "Total admission requests handled.",
		}, []string{"path", "method", "status"}),
		blockedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "firewall_blocked_total",
			Help: "Total requests denied admission, by reason.",
		}, []string{"reason", "path"}),
		piiDetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "firewall_pii_detections_total",
			Help: "Total PII findings reported by the analyzer, by type.",
		}, []string{"type"}),
		promptInjectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "firewall_prompt_injections_total",
			Help: "Total prompt-injection or jailbreak findings reported by the analyzer.",
		}, []string{"category"}),
		rateLimitViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "firewall_rate_limit_violations_total",
			Help: "Total requests denied by the rate limiter, by tier.",
		}, []string{"type"}),
		requestsByStatusTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "firewall_requests_by_status_total",
			Help: "Total requests by final HTTP status code.",
		}, []string{"status", "path"}),
		latencySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "firewall_latency_seconds",
			Help:    "End-to-end admission pipeline latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}
	m.auditQueueSize = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "firewall_audit_queue_size",
		Help: "Current number of entries buffered in the async audit queue.",
	}, queueSize)
	return m
}
