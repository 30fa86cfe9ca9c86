package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/sentrygate/gateway/pkg/audit"
	"github.com/sentrygate/gateway/pkg/auth"
	"github.com/sentrygate/gateway/pkg/httpx"
	"github.com/sentrygate/gateway/pkg/stream"
)

// handleAuditLogs answers a filtered, paginated audit query for operators.
func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		CallerFingerprint: q.Get("caller_fingerprint"),
		Limit:             atoiDefault(q.Get("limit"), 100),
		Offset:            atoiDefault(q.Get("offset"), 0),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	if until := q.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = t
		}
	}
	if blocked := q.Get("is_blocked"); blocked != "" {
		v := blocked == "true"
		filter.IsBlocked = &v
	}
	if status := q.Get("status"); status != "" {
		if v, err := strconv.Atoi(status); err == nil {
			filter.ResponseStatus = &v
		}
	}
	entries, err := s.AuditStore.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "audit query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// handleAuditStats answers the aggregate summary over an operator-supplied
// time range, defaulting to the trailing 24 hours.
func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	until := time.Now().UTC()
	since := until.Add(-24 * time.Hour)
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			until = t
		}
	}
	stats, err := s.AuditStore.StatsOver(r.Context(), since, until)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "audit stats query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

// handleEraseByCaller satisfies a data-subject erasure request: every row
// for the fingerprinted caller is hard-deleted and the action is logged to
// compliance_events for later audit of the operators themselves.
func (s *Server) handleEraseByCaller(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	if strings.TrimSpace(fingerprint) == "" {
		writeError(w, r, http.StatusBadRequest, ErrorTypeValidation, "fingerprint path parameter is required")
		return
	}
	rows, err := s.AuditStore.EraseByCaller(r.Context(), fingerprint)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "erase failed")
		return
	}
	s.logComplianceEvent(r.Context(), r, "erase_by_caller", fingerprint, rows)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted_count": rows, "client_ip_hash": fingerprint})
}

// handleSweepExpired hard-deletes every row whose retention window has
// elapsed. Operators trigger this on demand; nothing in the request path
// runs it automatically.
func (s *Server) handleSweepExpired(w http.ResponseWriter, r *http.Request) {
	rows, err := s.AuditStore.SweepExpired(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "sweep failed")
		return
	}
	s.logComplianceEvent(r.Context(), r, "sweep_expired", "*", rows)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted_count": rows})
}

func (s *Server) logComplianceEvent(ctx context.Context, r *http.Request, action, target string, rowsAffected int64) {
	actor := "unknown"
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		actor = p.Subject
		if isElevatedPrincipal(p) {
			actor = actor + " (elevated)"
		}
	}
	if _, err := s.DB.Exec(ctx,
		`INSERT INTO compliance_events (actor, action, target, rows_affected) VALUES ($1,$2,$3,$4)`,
		actor, action, target, rowsAffected); err != nil {
		// compliance logging failure never blocks the operator action
		_ = err
	}
}

// handleAuditStream is a live tail of admission decisions over a websocket,
// a supplemented operational feature generalizing pkg/stream.Hub beyond
// its original refresh-notification use.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
