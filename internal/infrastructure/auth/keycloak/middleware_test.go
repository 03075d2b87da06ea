package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/NaturaCheck/internal/testutil"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	args := m.Called(ctx, raw)
	c, _ := args.Get(0).(*Claims)
	return c, args.Error(1)
}

func serve(mw *AuthMiddleware, req *http.Request, inner http.HandlerFunc) *httptest.ResponseRecorder {
	if inner == nil {
		inner = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	}
	rr := httptest.NewRecorder()
	mw.Handler(inner).ServeHTTP(rr, req)
	return rr
}

func TestMiddleware_ValidToken_InjectsClaims(t *testing.T) {
	mv := new(mockVerifier)
	mv.On("Verify", mock.Anything, "good").Return(&Claims{Subject: "u1", Roles: []string{"naturacheck-analyst"}}, nil)

	var attempts []bool
	mw := NewAuthMiddleware(mv, nil, WithAttemptHook(func(ok bool) { attempts = append(attempts, ok) }))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/c1", nil)
	req.Header.Set("Authorization", "Bearer good")

	var uid string
	var roles []string
	rr := serve(mw, req, func(w http.ResponseWriter, r *http.Request) {
		uid, _ = UserIDFromContext(r.Context())
		roles, _ = RolesFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "u1", uid)
	assert.Equal(t, []string{"naturacheck-analyst"}, roles)
	assert.Equal(t, []bool{true}, attempts)
	mv.AssertExpectations(t)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	log := testutil.NewMockLogger()
	mw := NewAuthMiddleware(new(mockVerifier), log)

	rr := serve(mw, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")
	assert.True(t, log.HasMessage("warn", "authentication failed"))
}

func TestMiddleware_WrongScheme(t *testing.T) {
	mw := NewAuthMiddleware(new(mockVerifier), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil)
	req.Header.Set("Authorization", "Basic abc")

	rr := serve(mw, req, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddleware_ExpiredToken_Body(t *testing.T) {
	mv := new(mockVerifier)
	mv.On("Verify", mock.Anything, "old").Return(nil, ErrTokenExpired)
	mw := NewAuthMiddleware(mv, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases/evaluate", nil)
	req.Header.Set("Authorization", "bearer old")
	rr := serve(mw, req, nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "AUTH_002", body.Error.Code)
}

func TestMiddleware_ProviderDown_Is503(t *testing.T) {
	mv := new(mockVerifier)
	mv.On("Verify", mock.Anything, "t").Return(nil, ErrProviderDown)
	mw := NewAuthMiddleware(mv, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr := serve(mw, req, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Empty(t, rr.Header().Get("WWW-Authenticate"))
}

func TestMiddleware_SkipPathsAndPrefixes(t *testing.T) {
	mv := new(mockVerifier)
	mw := NewAuthMiddleware(mv, nil, WithSkipPaths("/healthz"), WithSkipPrefixes("/metrics"))

	assert.Equal(t, http.StatusOK, serve(mw, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil).Code)
	assert.Equal(t, http.StatusOK, serve(mw, httptest.NewRequest(http.MethodGet, "/metrics/x", nil), nil).Code)
	mv.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestMiddleware_CustomFailureHandler(t *testing.T) {
	mw := NewAuthMiddleware(new(mockVerifier), nil, WithAuthFailureHandler(func(w http.ResponseWriter, _ *http.Request, _ error) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := serve(mw, httptest.NewRequest(http.MethodGet, "/x", nil), nil)
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
