package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/handlers"
	"github.com/turtacn/NaturaCheck/internal/interfaces/http/middleware"
)

// staticVerifier accepts a fixed set of tokens.
type staticVerifier map[string]*keycloak.Claims

func (v staticVerifier) Verify(_ context.Context, raw string) (*keycloak.Claims, error) {
	if c, ok := v[raw]; ok {
		return c, nil
	}
	return nil, keycloak.ErrTokenInvalid
}

var tokens = staticVerifier{
	"admin":   {Subject: "u-admin", Roles: []string{string(keycloak.RoleAdmin)}},
	"analyst": {Subject: "u-analyst", Roles: []string{string(keycloak.RoleAnalyst)}},
	"auditor": {Subject: "u-auditor", Roles: []string{string(keycloak.RoleAuditor)}},
}

func newService() evaluation.Service {
	return evaluation.NewService(catalog.MustDefault(), eligibility.DefaultPolicy(), evaluation.Dependencies{}, nil,
		evaluation.WithClock(func() time.Time { return time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC) }))
}

func fullConfig() RouterConfig {
	svc := newService()
	log := logging.NewNopLogger()
	return RouterConfig{
		EvaluationHandler: handlers.NewEvaluationHandler(svc, log, 0),
		CatalogHandler:    handlers.NewCatalogHandler(svc, nil, log, 0),
		HealthHandler:     handlers.NewHealthHandler("test", svc.Catalog().Version),
		AuthMiddleware:    keycloak.NewAuthMiddleware(tokens, log),
		Enforcer:          keycloak.NewEnforcer(nil, log),
		Logger:            log,
	}
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRouter_ProbesArePublic(t *testing.T) {
	r := NewRouter(fullConfig())

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/readyz", "", nil).Code)
}

func TestNewRouter_APIRequiresToken(t *testing.T) {
	r := NewRouter(fullConfig())

	rec := do(t, r, http.MethodGet, "/api/v1/catalog", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/api/v1/catalog", "forged", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/catalog", "auditor", nil).Code)
}

func TestNewRouter_PermissionsPerRoute(t *testing.T) {
	r := NewRouter(fullConfig())
	c := evaluation.EvaluateRequest{Case: eligibility.Case{ID: "r-1", Track: "provisional"}}

	cases := []struct {
		method, path, token string
		body                interface{}
		status              int
	}{
		{http.MethodPost, "/api/v1/cases/evaluate", "auditor", c, http.StatusForbidden},
		{http.MethodPost, "/api/v1/cases/evaluate", "analyst", c, http.StatusOK},
		{http.MethodGet, "/api/v1/verdicts/r-1", "auditor", nil, http.StatusOK},
		{http.MethodGet, "/api/v1/verdicts/r-1/history", "auditor", nil, http.StatusOK},
		{http.MethodGet, "/api/v1/verdicts/search", "auditor", nil, http.StatusServiceUnavailable},
		{http.MethodPost, "/api/v1/documents/validate", "auditor", handlers.ValidateDocumentRequest{DocumentType: "CPF"}, http.StatusForbidden},
		{http.MethodPost, "/api/v1/documents/validate", "analyst", handlers.ValidateDocumentRequest{DocumentType: "CPF"}, http.StatusOK},
		{http.MethodPost, "/api/v1/opinions/analyze", "analyst", handlers.AnalyzeOpinionRequest{Text: "deferimento"}, http.StatusOK},
		{http.MethodGet, "/api/v1/catalog/documents/cpf", "auditor", nil, http.StatusOK},
		{http.MethodGet, "/api/v1/catalog/documents/cpf/location", "auditor", nil, http.StatusOK},
		{http.MethodPost, "/api/v1/catalog/reload", "analyst", nil, http.StatusForbidden},
		{http.MethodPost, "/api/v1/catalog/reload", "admin", nil, http.StatusNotImplemented},
	}
	// Order matters: the verdict lookups rely on the evaluation above them.
	for _, tc := range cases {
		rec := do(t, r, tc.method, tc.path, tc.token, tc.body)
		assert.Equal(t, tc.status, rec.Code, "%s %s as %s: %s", tc.method, tc.path, tc.token, rec.Body.String())
	}
}

func TestNewRouter_NilHandlers(t *testing.T) {
	r := NewRouter(RouterConfig{})

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/v1/catalog", "", nil).Code)
}

func TestNewRouter_WithoutAuthIsPermissive(t *testing.T) {
	cfg := fullConfig()
	cfg.AuthMiddleware = nil
	cfg.Enforcer = nil
	r := NewRouter(cfg)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/catalog", "", nil).Code)
}

func TestNewRouter_RequestIDAndMetrics(t *testing.T) {
	collector, err := metrics.NewMetricsCollector(metrics.CollectorConfig{Namespace: "router"}, logging.NewNopLogger())
	require.NoError(t, err)

	cfg := fullConfig()
	cfg.Metrics = metrics.NewAppMetrics(collector)
	cfg.MetricsCollector = collector
	cfg.MetricsPath = "/internal/metrics"
	r := NewRouter(cfg)

	rec := do(t, r, http.MethodGet, "/api/v1/catalog", "auditor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)

	scrape := do(t, r, http.MethodGet, "/internal/metrics", "", nil)
	require.Equal(t, http.StatusOK, scrape.Code)
	assert.Contains(t, scrape.Body.String(), `route="/api/v1/catalog`)
}

func TestNewRouter_RateLimitAfterAuth(t *testing.T) {
	cfg := fullConfig()
	cfg.RateLimitMiddleware = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	r := NewRouter(cfg)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/catalog", "auditor", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, r, http.MethodGet, "/api/v1/catalog", "auditor", nil).Code)
	// A different subject has its own budget.
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/catalog", "analyst", nil).Code)
	// Probes are outside the limited group.
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", "", nil).Code)
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	cfg := fullConfig()
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = []string{"https://review.example.gov"}
	cfg.CORSMiddleware = middleware.NewCORSMiddleware(cors)
	r := NewRouter(cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cases/evaluate", nil)
	req.Header.Set("Origin", "https://review.example.gov")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Preflights carry no token and must not hit the auth middleware.
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
