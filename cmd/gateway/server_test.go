package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sentrygate/gateway/pkg/auth"
	"github.com/sentrygate/gateway/pkg/ratelimit"
)

func TestNewServerUsesMemoryStoreWithoutRedis(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)
	require.IsType(t, &ratelimit.MemoryStore{}, s.Limiter.Store)
}

func TestNewServerUsesRedisStoreWhenClientProvided(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, client)
	require.NoError(t, err)
	require.IsType(t, &ratelimit.RedisStore{}, s.Limiter.Store)
}

func TestAuthMiddlewareOffModeAssignsAnonymousPrincipal(t *testing.T) {
	s, err := NewServer(loadConfig(func(string) string { return "" }), nil, nil)
	require.NoError(t, err)
	mw := s.authMiddleware()
	require.NotNil(t, mw)

	var got auth.Principal
	var ok bool
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = auth.PrincipalFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil))
	require.True(t, ok)
	require.Equal(t, "anonymous", got.Subject)
}
