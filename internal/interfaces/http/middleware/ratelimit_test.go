package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

func TestSubjectOrIPKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "ip:10.0.0.7", SubjectOrIPKey(r))

	r = r.WithContext(keycloak.WithClaims(context.Background(), &keycloak.Claims{Subject: "u-1"}))
	assert.Equal(t, "sub:u-1", SubjectOrIPKey(r))
}

func TestKeyedLimiter_BurstThenDeny(t *testing.T) {
	l := NewKeyedLimiter(1, 2, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, remaining, _ := l.Reserve("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _, _ = l.Reserve("a")
	assert.True(t, ok)

	ok, _, wait := l.Reserve("a")
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	// Other clients have their own bucket.
	ok, _, _ = l.Reserve("b")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _, _ = l.Reserve("a")
	assert.True(t, ok)
}

func TestKeyedLimiter_SweepsIdleClients(t *testing.T) {
	l := NewKeyedLimiter(10, 10, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Reserve("a")
	l.Reserve("b")
	require.Equal(t, 2, l.Clients())

	now = now.Add(2 * time.Minute)
	l.Reserve("c")
	assert.Equal(t, 1, l.Clients())
}

func TestRateLimit_Rejects(t *testing.T) {
	m := NewRateLimitMiddleware(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, SkipPaths: []string{"/healthz"}})
	h := m.Handler(statusHandler(http.StatusOK))

	req := func(path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "192.0.2.1:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	first := req("/api/v1/catalog")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := req("/api/v1/catalog")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	var body common.APIResponse[any]
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "COMMON_007", body.Error.Code)

	assert.Equal(t, http.StatusOK, req("/healthz").Code)
}
