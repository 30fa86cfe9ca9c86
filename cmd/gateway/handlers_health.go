package main

import (
	"context"
	"net/http"
	"time"

	"github.com/sentrygate/gateway/pkg/analyzer"
	"github.com/sentrygate/gateway/pkg/httpx"
)

// handleHealth is a bare liveness probe: never rate-limited, never audited.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   ServiceName,
		"version":   ServiceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.StartedAt).String(),
	})
}

// handleReady checks every dependency the admission pipeline needs to make
// a decision: the analyzer, the audit store, and the rate-limit store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if resp, err := s.Analyzer.HealthCheck(ctx); err != nil {
		checks["analyzer"] = err.Error()
		ready = false
	} else if resp.Status != analyzer.StatusServing {
		checks["analyzer"] = "not serving: " + string(resp.Status)
		ready = false
	} else {
		checks["analyzer"] = "ok"
	}

	if s.DB != nil {
		if err := s.DB.Ping(ctx); err != nil {
			checks["audit_store"] = err.Error()
			ready = false
		} else {
			checks["audit_store"] = "ok"
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			checks["rate_limit_store"] = err.Error()
			ready = false
		} else {
			checks["rate_limit_store"] = "ok"
		}
	} else {
		checks["rate_limit_store"] = "in-memory"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

// handleModels returns the configured model catalog; the gateway proxies
// chat completions but does not yet forward to a model backend.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	data := make([]map[string]any, 0, len(s.Config.Models))
	for _, id := range s.Config.Models {
		data = append(data, map[string]any{"id": id, "object": "model", "owned_by": ServiceName})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}
