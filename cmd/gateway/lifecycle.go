package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentrygate/gateway/pkg/audit"
	"github.com/sentrygate/gateway/pkg/digest"
)

type contextKey string

const requestIDContextKey contextKey = "request-id"

// requestContext accumulates everything a single request touches as it
// passes through the pipeline: assigned once at admission, read once when
// the response is flushed and the audit entry is built.
type requestContext struct {
	RequestID            string
	StartedAt            time.Time
	CallerFingerprint    string
	UserAgentFingerprint string
	KeyFingerprint       string
	RequestBytes         int64
	Patch                audit.Patch
}

func newRequestContext(r *http.Request, hasher digest.Hasher) *requestContext {
	rid := requestIDFromContext(r.Context())
	if rid == "" {
		rid = strings.TrimSpace(r.Header.Get("X-Request-Id"))
	}
	if rid == "" {
		rid = uuid.NewString()
	}
	return &requestContext{
		RequestID:            rid,
		StartedAt:            time.Now().UTC(),
		CallerFingerprint:    hasher.Of(clientIP(r)),
		UserAgentFingerprint: hasher.OfOptional(r.UserAgent()),
		KeyFingerprint:       hasher.OfOptional(bearerToken(r)),
	}
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

func requestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDContextKey).(string)
	return v
}

// clientIP prefers the first hop of X-Forwarded-For, falling back to
// RemoteAddr. The gateway is assumed to sit behind a trusted proxy that
// sets this header; no CIDR allowlist is enforced here since fingerprinting
// is the only consumer, not access control.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// buildAuditEntry assembles the final audit row once a response has been
// decided. It never carries a raw identifier: every identity field on
// requestContext is already a digest.
func (rc *requestContext) buildAuditEntry(method, path string, status int, responseBytes int64, retention time.Time) audit.Entry {
	return audit.Entry{
		RequestID:            rc.RequestID,
		Timestamp:            rc.StartedAt,
		Method:               method,
		Path:                 path,
		CallerFingerprint:    rc.CallerFingerprint,
		UserAgentFingerprint: rc.UserAgentFingerprint,
		KeyFingerprint:       rc.KeyFingerprint,
		RequestBytes:         rc.RequestBytes,
		ResponseStatus:       status,
		ResponseBytes:        responseBytes,
		LatencyMillis:        time.Since(rc.StartedAt).Milliseconds(),
		IsBlocked:            rc.Patch.IsBlocked,
		BlockReason:          rc.Patch.BlockReason,
		DetectedIssuesCount:  rc.Patch.DetectedIssuesCount,
		SecurityConfidence:   rc.Patch.SecurityConfidence,
		LLMProvider:          rc.Patch.LLMProvider,
		LLMModel:             rc.Patch.LLMModel,
		RetentionUntil:       retention,
	}
}
