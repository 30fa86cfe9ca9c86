package main

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentrygate/gateway/pkg/auth"
	"github.com/sentrygate/gateway/pkg/httpx"
	"github.com/sentrygate/gateway/pkg/telemetry"
)

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(s.Config.CORSOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, ErrorTypeNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, ErrorTypeNotFound, "method not allowed for this route")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/v1/models", s.handleModels)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Handle("/metrics", promhttp.HandlerFor(s.PromReg, promhttp.HandlerOpts{}))

	adminRouter := chi.NewRouter()
	adminRouter.Use(s.authMiddleware())
	adminRouter.Get("/audit-logs", s.requireAdminRole(s.handleAuditLogs))
	adminRouter.Get("/audit-stats", s.requireAdminRole(s.handleAuditStats))
	adminRouter.Delete("/audit-logs/client/{fingerprint}", s.requireAdminRole(s.handleEraseByCaller))
	adminRouter.Post("/audit-logs/cleanup", s.requireAdminRole(s.handleSweepExpired))
	adminRouter.Get("/audit-stream", s.requireAdminRole(s.handleAuditStream))
	adminRouter.Get("/metrics", s.requireAdminRole(func(w http.ResponseWriter, r *http.Request) { s.Metrics.Handler()(w, r) }))
	adminRouter.Get("/metrics/prometheus", s.requireAdminRole(func(w http.ResponseWriter, r *http.Request) { s.Metrics.PrometheusHandler()(w, r) }))
	r.Mount("/admin", adminRouter)

	return r
}

// requestIDMiddleware assigns the request id (inbound X-Request-Id or a
// fresh UUID) before any other component runs, so handlers, error bodies,
// and audit rows all agree on it, and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), rid)))
	})
}

// recoverMiddleware converts a panicking handler into the uniform 500
// error body instead of letting the connection die mid-response.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records every request's outcome into both the
// hand-rolled admin registry and the scrape-facing Prometheus registry,
// and stamps X-Response-Time once the status is decided.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK, started: started}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)
		path := r.Method + " " + r.URL.Path
		s.Metrics.Observe(path, rec.status, elapsed)
		s.Metrics.ObserveLatency(path, elapsed)
		status := strconv.Itoa(rec.status)
		s.Prom.requestsTotal.WithLabelValues(r.URL.Path, r.Method, status).Inc()
		s.Prom.requestsByStatusTotal.WithLabelValues(status, r.URL.Path).Inc()
		s.Prom.latencySeconds.WithLabelValues(r.URL.Path, r.Method).Observe(elapsed.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	started     time.Time
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.Header().Set("X-Response-Time", strconv.FormatInt(time.Since(r.started).Milliseconds(), 10)+"ms")
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Config.MaxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.Config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}

func isElevatedPrincipal(p auth.Principal) bool {
	return auth.HasAnyRole(p, "securityadmin", "complianceofficer", "platformengineer")
}
