package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentrygate/gateway/pkg/digest"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContextAssignsRequestIDAndFingerprints(t *testing.T) {
	hasher := digest.New([]byte("salt"))
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-test-key")
	req.Header.Set("User-Agent", "test-agent/1.0")
	req.RemoteAddr = "203.0.113.4:51515"

	rc := newRequestContext(req, hasher)
	require.NotEmpty(t, rc.RequestID)
	require.Len(t, rc.CallerFingerprint, 64)
	require.Len(t, rc.UserAgentFingerprint, 64)
	require.Len(t, rc.KeyFingerprint, 64)
	require.Equal(t, hasher.Of("203.0.113.4"), rc.CallerFingerprint)
	require.Equal(t, hasher.Of("sk-test-key"), rc.KeyFingerprint)
}

func TestNewRequestContextReusesIncomingRequestID(t *testing.T) {
	hasher := digest.New(nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("X-Request-Id", "caller-supplied-id")

	rc := newRequestContext(req, hasher)
	require.Equal(t, "caller-supplied-id", rc.RequestID)
}

func TestNewRequestContextNoKeyFingerprintWithoutBearerToken(t *testing.T) {
	hasher := digest.New(nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	rc := newRequestContext(req, hasher)
	require.Equal(t, digest.Null, rc.KeyFingerprint)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:8080"
	require.Equal(t, "198.51.100.7", clientIP(req))
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:54321"
	require.Equal(t, "192.0.2.10", clientIP(req))
}

func TestBearerTokenExtraction(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	require.Equal(t, "abc123", bearerToken(req))

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Authorization", "Basic xyz")
	require.Empty(t, bearerToken(req2))
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := withRequestID(context.Background(), "abc-def")
	require.Equal(t, "abc-def", requestIDFromContext(ctx))
	require.Empty(t, requestIDFromContext(context.Background()))
}

func TestBuildAuditEntryCarriesPatchFields(t *testing.T) {
	hasher := digest.New([]byte("salt"))
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rc := newRequestContext(req, hasher)
	rc.Patch.IsBlocked = true
	confidence := 0.91
	rc.Patch.SecurityConfidence = &confidence

	entry := rc.buildAuditEntry("POST", "/v1/chat/completions", 403, 128, rc.StartedAt)
	require.Equal(t, rc.RequestID, entry.RequestID)
	require.True(t, entry.IsBlocked)
	require.Equal(t, 403, entry.ResponseStatus)
	require.NotNil(t, entry.SecurityConfidence)
	require.InDelta(t, 0.91, *entry.SecurityConfidence, 0.0001)
}
