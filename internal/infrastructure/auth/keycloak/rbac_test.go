package keycloak

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/NaturaCheck/pkg/errors"
)

func ctxWithRoles(roles ...string) context.Context {
	return WithClaims(context.Background(), &Claims{Subject: "u", Roles: roles})
}

func TestEnforcer_RolePermissions(t *testing.T) {
	e := NewEnforcer(nil, nil)

	analyst := ctxWithRoles(string(RoleAnalyst))
	assert.True(t, e.HasPermission(analyst, PermCaseEvaluate))
	assert.False(t, e.HasPermission(analyst, PermCatalogReload))

	auditor := ctxWithRoles(string(RoleAuditor))
	assert.True(t, e.HasPermission(auditor, PermVerdictSearch))
	assert.False(t, e.HasPermission(auditor, PermCaseEvaluate))

	admin := ctxWithRoles(string(RoleAdmin))
	assert.True(t, e.HasPermission(admin, PermCatalogReload))

	assert.False(t, e.HasPermission(ctxWithRoles("offline_access"), PermCatalogRead))
}

func TestEnforcer_Enforce(t *testing.T) {
	e := NewEnforcer(nil, nil)

	err := e.Enforce(context.Background(), PermVerdictRead)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthorized))

	err = e.Enforce(ctxWithRoles(string(RoleAuditor)), PermCaseEvaluate)
	assert.True(t, errors.IsCode(err, errors.ErrCodeForbidden))

	assert.NoError(t, e.Enforce(ctxWithRoles(string(RoleClient)), PermCaseEvaluate))
}

func TestEnforcer_UpdateMapping(t *testing.T) {
	e := NewEnforcer(nil, nil)
	ctx := ctxWithRoles(string(RoleAuditor))
	assert.False(t, e.HasPermission(ctx, PermCatalogReload))

	e.UpdateMapping(RolePermissionMapping{RoleAuditor: {PermCatalogReload}})
	assert.True(t, e.HasPermission(ctx, PermCatalogReload))
}

func TestPermissiveEnforcer(t *testing.T) {
	e := NewPermissiveEnforcer()
	assert.NoError(t, e.Enforce(context.Background(), PermCatalogReload))
}

func TestRequirePermission_Middleware(t *testing.T) {
	e := NewEnforcer(nil, nil)
	h := e.RequirePermission(PermCatalogReload)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog/reload", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(ctxWithRoles(string(RoleAnalyst))))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(ctxWithRoles(string(RoleAdmin))))
	assert.Equal(t, http.StatusOK, rr.Code)
}
