package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func TestNewPromMetricsRegistersAllSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newPromMetrics(reg, func() float64 { return 7 })

	m.requestsTotal.WithLabelValues("/v1/chat/completions", "POST", "403").Inc()
	m.blockedTotal.WithLabelValues("content-policy-violation", "/v1/chat/completions").Inc()
	m.piiDetectionsTotal.WithLabelValues("EMAIL").Inc()
	m.promptInjectionsTotal.WithLabelValues("PROMPT_INJECTION").Inc()
	m.rateLimitViolations.WithLabelValues("per_caller").Inc()
	m.requestsByStatusTotal.WithLabelValues("403", "/v1/chat/completions").Inc()
	m.latencySeconds.WithLabelValues("/v1/chat/completions", "POST").Observe(0.05)

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		"firewall_requests_total", "firewall_blocked_total", "firewall_pii_detections_total",
		"firewall_prompt_injections_total", "firewall_rate_limit_violations_total",
		"firewall_requests_by_status_total", "firewall_latency_seconds", "firewall_audit_queue_size 7",
	} {
		require.True(t, strings.Contains(body, want), "missing series %s", want)
	}
}
