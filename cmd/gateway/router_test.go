package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentrygate/gateway/pkg/audit"
	"github.com/sentrygate/gateway/pkg/auth"
)

func TestRouterUnknownRouteReturnsUniformErrorBody(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)
	handler := s.router()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/no/such/route", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ErrorTypeNotFound, body.Error.Type)
	require.NotEmpty(t, body.Error.RequestID)
}

func TestRouterStampsStandardHeaders(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)
	handler := s.router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "caller-supplied-id")
	handler.ServeHTTP(rec, req)

	require.Equal(t, "caller-supplied-id", rec.Header().Get("X-Request-Id"))
	require.Regexp(t, `^\d+ms$`, rec.Header().Get("X-Response-Time"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestIsElevatedPrincipal(t *testing.T) {
	require.True(t, isElevatedPrincipal(auth.Principal{Roles: []string{"securityadmin"}}))
	require.True(t, isElevatedPrincipal(auth.Principal{Roles: []string{"platformengineer"}}))
	require.False(t, isElevatedPrincipal(auth.Principal{Roles: []string{"anonymous"}}))
}

func TestLimitRequestBodyMiddlewareWrapsBodyWhenConfigured(t *testing.T) {
	s, err := NewServer(loadConfig(func(k string) string {
		if k == "MAX_BODY_BYTES" {
			return "16"
		}
		return ""
	}), nil, nil)
	require.NoError(t, err)

	var sawBody []byte
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, 1024)
		n, _ := r.Body.Read(b)
		sawBody = b[:n]
	})
	handler := s.limitRequestBodyMiddleware(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("short"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "short", string(sawBody))
}

func TestRouterServesHealthAndMetricsWithoutAuth(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)
	handler := s.router()

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, health.Code)

	metrics := httptest.NewRecorder()
	handler.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metrics.Code)
}

func TestRouterRejectsUnauthenticatedAdminAccess(t *testing.T) {
	s, err := NewServer(loadConfig(func(k string) string {
		if k == "AUTH_MODE" {
			return "oidc_hs256"
		}
		if k == "AUTH_SECRET" {
			return "test-secret"
		}
		return ""
	}), nil, nil)
	require.NoError(t, err)
	handler := s.router()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterRejectsAdminAccessWhenAuthOffAndRoleMissing(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)
	fdb := &fakeGatewayDB{}
	s.AuditStore = audit.NewStore(fdb)
	handler := s.router()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecoverMiddlewareReturnsUniform500(t *testing.T) {
	handler := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ErrorTypeInternal, body.Error.Type)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)

	handler := s.metricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}
