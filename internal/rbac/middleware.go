package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tenantdesk/tenantdesk/internal/platform/httpx"
)

// RolesFunc returns the roles of the caller resolved for this request. ok is
// false when the request carries no authenticated identity.
type RolesFunc func(r *http.Request) (roles []Role, ok bool)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Roles  RolesFunc
	Logger *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", normalizePermissions(perms), HasAnyPermission)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", normalizePermissions(perms), HasAllPermissions)
}

// RequireAdmin ensures the current user passes IsAdmin.
func (m Middleware) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roles, ok := m.currentRoles(r)
			if !ok {
				httpx.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !IsAdmin(roles) {
				m.deny(w, r, "rbac require admin", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) require(op string, normalized []string, check func([]Role, []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			roles, ok := m.currentRoles(r)
			if !ok {
				httpx.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if check(roles, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, op, normalized)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, op string, required []string) {
	if m.Logger != nil {
		m.Logger.Warn(op, slog.String("path", r.URL.Path), slog.Any("required", required))
	}
	httpx.Error(w, http.StatusForbidden, "insufficient permissions")
}

func (m Middleware) currentRoles(r *http.Request) ([]Role, bool) {
	if m.Roles == nil {
		return nil, false
	}
	return m.Roles(r)
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
