package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req = req.WithContext(withRequestID(context.Background(), "req-123"))

	writeError(rec, req, http.StatusForbidden, ErrorTypeContentPolicy, "blocked")

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ErrorTypeContentPolicy, body.Error.Type)
	require.Equal(t, "blocked", body.Error.Message)
	require.Equal(t, "req-123", body.Error.RequestID)
	require.NotEmpty(t, body.Error.Timestamp)

	// the wire contract uses camelCase requestId; pin the literal key so a
	// tag change cannot slip through struct-based unmarshalling
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Contains(t, raw["error"], "requestId")
	require.NotContains(t, raw["error"], "request_id")
}

func TestWriteErrorDetailsIncludesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil)

	writeErrorDetails(rec, req, http.StatusBadRequest, ErrorTypeValidation, "bad filter", map[string]string{"field": "since"})

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "since", body.Error.Details.(map[string]interface{})["field"])
}
