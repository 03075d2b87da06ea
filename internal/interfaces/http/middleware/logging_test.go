package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/testutil"
)

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte("body"))
	})
}

func TestRequestLogging_LevelByStatus(t *testing.T) {
	cases := []struct {
		status int
		level  string
		msg    string
	}{
		{http.StatusOK, "info", "request served"},
		{http.StatusNotFound, "warn", "request rejected"},
		{http.StatusBadGateway, "error", "request failed"},
	}
	for _, tc := range cases {
		logger := testutil.NewMockLogger()
		h := RequestLogging(logger, LoggingConfig{})(statusHandler(tc.status))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))

		assert.True(t, logger.HasMessage(tc.level, tc.msg), "status %d", tc.status)
		status, ok := logger.FieldValue(tc.msg, "status")
		require.True(t, ok)
		assert.Equal(t, tc.status, status)
	}
}

func TestRequestLogging_SkipsProbes(t *testing.T) {
	logger := testutil.NewMockLogger()
	h := RequestLogging(logger, DefaultLoggingConfig())(statusHandler(http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Empty(t, logger.Messages())
}

func TestRequestLogging_SlowAndUser(t *testing.T) {
	logger := testutil.NewMockLogger()
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	h := RequestLogging(logger, LoggingConfig{SlowThreshold: time.Millisecond})(slow)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases/evaluate", nil)
	req = req.WithContext(keycloak.WithClaims(context.Background(), &keycloak.Claims{Subject: "analyst-1"}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, logger.HasMessage("warn", "slow request"))
	uid, _ := logger.FieldValue("slow request", "user_id")
	assert.Equal(t, "analyst-1", uid)
}

func TestLoggingMiddleware_Handler(t *testing.T) {
	logger := testutil.NewMockLogger()
	m := NewLoggingMiddleware(logger, LoggingConfig{})

	rec := httptest.NewRecorder()
	m.Handler(statusHandler(http.StatusCreated)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, logger.HasMessage("info", "request served"))
}
