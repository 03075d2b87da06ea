package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

// Permission is an API capability.
type Permission string

const (
	PermCaseEvaluate  Permission = "case:evaluate"
	PermDocumentCheck Permission = "document:validate"
	PermVerdictRead   Permission = "verdict:read"
	PermVerdictSearch Permission = "verdict:search"
	PermCatalogRead   Permission = "catalog:read"
	PermCatalogReload Permission = "catalog:reload"
)

// Role is a realm or client role name.
type Role string

const (
	RoleAdmin   Role = "naturacheck-admin"
	RoleAnalyst Role = "naturacheck-analyst"
	RoleAuditor Role = "naturacheck-auditor"
	RoleClient  Role = "naturacheck-client"
)

// RolePermissionMapping maps roles to permissions.
type RolePermissionMapping map[Role][]Permission

// DefaultRolePermissionMapping returns the built-in mapping. Admin is
// handled separately and holds every permission.
func DefaultRolePermissionMapping() RolePermissionMapping {
	return RolePermissionMapping{
		RoleAnalyst: {
			PermCaseEvaluate, PermDocumentCheck,
			PermVerdictRead, PermVerdictSearch, PermCatalogRead,
		},
		RoleAuditor: {PermVerdictRead, PermVerdictSearch, PermCatalogRead},
		RoleClient:  {PermCaseEvaluate, PermDocumentCheck, PermVerdictRead, PermCatalogRead},
	}
}

// Enforcer checks permissions of the authenticated caller.
type Enforcer struct {
	mu       sync.RWMutex
	mapping  RolePermissionMapping
	logger   logging.Logger
	disabled bool
}

// NewEnforcer creates an Enforcer. A nil mapping uses the default.
func NewEnforcer(mapping RolePermissionMapping, logger logging.Logger) *Enforcer {
	if mapping == nil {
		mapping = DefaultRolePermissionMapping()
	}
	return &Enforcer{mapping: mapping, logger: logging.OrNop(logger)}
}

// NewPermissiveEnforcer allows everything. Used when authentication is off.
func NewPermissiveEnforcer() *Enforcer {
	return &Enforcer{mapping: RolePermissionMapping{}, logger: logging.NewNopLogger(), disabled: true}
}

// UpdateMapping swaps the mapping.
func (e *Enforcer) UpdateMapping(mapping RolePermissionMapping) {
	e.mu.Lock()
	e.mapping = mapping
	e.mu.Unlock()
}

// HasPermission reports whether any caller role grants p.
func (e *Enforcer) HasPermission(ctx context.Context, p Permission) bool {
	if e.disabled {
		return true
	}
	roles, _ := RolesFromContext(ctx)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range roles {
		if Role(r) == RoleAdmin {
			return true
		}
		for _, granted := range e.mapping[Role(r)] {
			if granted == p {
				return true
			}
		}
	}
	return false
}

// Enforce returns an error unless the caller holds p.
func (e *Enforcer) Enforce(ctx context.Context, p Permission) error {
	if e.HasPermission(ctx, p) {
		return nil
	}
	if _, ok := ClaimsFromContext(ctx); !ok && !e.disabled {
		return errors.Unauthorized("authentication required")
	}
	return errors.Forbidden("permission denied").WithDetail(string(p))
}

// RequirePermission is an HTTP middleware guarding a route with p.
func (e *Enforcer) RequirePermission(p Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := e.Enforce(r.Context(), p); err != nil {
				uid, _ := UserIDFromContext(r.Context())
				e.logger.Warn("permission denied",
					logging.String("user_id", uid),
					logging.String("permission", string(p)),
					logging.String("path", r.URL.Path))
				code := errors.GetCode(err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(errors.HTTPStatusForCode(code))
				_ = json.NewEncoder(w).Encode(common.NewErrorResponse(code.String(), errors.DefaultMessageForCode(code)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
