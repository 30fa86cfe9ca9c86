package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentrygate/gateway/pkg/analyzer"
)

func TestHandleHealthAlwaysOK(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status    string `json:"status"`
		Service   string `json:"service"`
		Version   string `json:"version"`
		Timestamp string `json:"timestamp"`
		Uptime    string `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.NotEmpty(t, body.Service)
	require.NotEmpty(t, body.Version)
	require.NotEmpty(t, body.Timestamp)
	require.NotEmpty(t, body.Uptime)
}

func TestHandleModelsReturnsStaticCatalog(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.handleModels(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data)
}

func TestHandleReadyReportsOKWhenAnalyzerHealthy(t *testing.T) {
	impl := &fakeAnalyzerService{
		health: func(ctx context.Context, req analyzer.HealthCheckRequest) (analyzer.HealthCheckResponse, error) {
			return analyzer.HealthCheckResponse{Status: analyzer.StatusServing}, nil
		},
	}
	addr := startFakeAnalyzer(t, impl)

	s, err := NewServer(loadConfig(func(k string) string {
		if k == "ANALYZER_ADDR" {
			return addr
		}
		return ""
	}), nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.handleReady(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Ready)
	require.Equal(t, "ok", body.Checks["analyzer"])
	require.Equal(t, "in-memory", body.Checks["rate_limit_store"])
}

func TestHandleReadyReportsUnavailableWhenAnalyzerDown(t *testing.T) {
	s, err := NewServer(loadConfig(func(k string) string {
		if k == "ANALYZER_ADDR" {
			return "127.0.0.1:1"
		}
		if k == "ANALYZER_MAX_RETRIES" {
			return "0"
		}
		return ""
	}), nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.handleReady(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Ready)
	require.NotEqual(t, "ok", body.Checks["analyzer"])
}
