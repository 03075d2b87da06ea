package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

type contextKey string

const (
	ContextKeyClaims contextKey = "auth_claims"
	ContextKeyUserID contextKey = "user_id"
	ContextKeyRoles  contextKey = "user_roles"
)

// AuthMiddleware authenticates bearer tokens on every non-skipped path.
type AuthMiddleware struct {
	verifier      TokenVerifier
	logger        logging.Logger
	skipPaths     map[string]bool
	skipPrefixes  []string
	onAttempt     func(success bool)
	onAuthFailure func(w http.ResponseWriter, r *http.Request, err error)
}

// MiddlewareOption configures AuthMiddleware.
type MiddlewareOption func(*AuthMiddleware)

// WithSkipPaths exempts exact paths.
func WithSkipPaths(paths ...string) MiddlewareOption {
	return func(m *AuthMiddleware) {
		for _, p := range paths {
			m.skipPaths[p] = true
		}
	}
}

// WithSkipPrefixes exempts path prefixes.
func WithSkipPrefixes(prefixes ...string) MiddlewareOption {
	return func(m *AuthMiddleware) {
		m.skipPrefixes = append(m.skipPrefixes, prefixes...)
	}
}

// WithAttemptHook is called after every verification attempt.
func WithAttemptHook(fn func(success bool)) MiddlewareOption {
	return func(m *AuthMiddleware) {
		m.onAttempt = fn
	}
}

// WithAuthFailureHandler replaces the default 401 writer.
func WithAuthFailureHandler(handler func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *AuthMiddleware) {
		m.onAuthFailure = handler
	}
}

// NewAuthMiddleware creates an AuthMiddleware.
func NewAuthMiddleware(verifier TokenVerifier, logger logging.Logger, opts ...MiddlewareOption) *AuthMiddleware {
	m := &AuthMiddleware{
		verifier:      verifier,
		logger:        logging.OrNop(logger),
		skipPaths:     make(map[string]bool),
		onAttempt:     func(bool) {},
		onAuthFailure: defaultAuthFailureHandler,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *AuthMiddleware) skipped(path string) bool {
	if m.skipPaths[path] {
		return true
	}
	for _, prefix := range m.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Handler wraps next.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		claims, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		m.onAttempt(true)
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	m.onAttempt(false)
	m.logger.Warn("authentication failed",
		logging.String("path", r.URL.Path),
		logging.String("remote", r.RemoteAddr),
		logging.Err(err),
	)
	m.onAuthFailure(w, r, err)
}

func extractBearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingAuthToken
	}
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", ErrTokenMalformed.WithDetail("expected Bearer scheme")
	}
	return strings.TrimSpace(h[len(prefix):]), nil
}

func defaultAuthFailureHandler(w http.ResponseWriter, _ *http.Request, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.ErrCodeUnauthorized
	}
	status := errors.HTTPStatusForCode(code)
	if status < 500 {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(common.NewErrorResponse(code.String(), errors.DefaultMessageForCode(code)))
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClaims, claims)
	ctx = context.WithValue(ctx, ContextKeyUserID, claims.Subject)
	return context.WithValue(ctx, ContextKeyRoles, claims.Roles)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*Claims)
	return claims, ok
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ContextKeyUserID).(string)
	return uid, ok
}

func RolesFromContext(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(ContextKeyRoles).([]string)
	return roles, ok
}
