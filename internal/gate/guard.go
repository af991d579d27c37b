package gate

import (
	"net/http"

	"github.com/tenantdesk/tenantdesk/internal/identity"
)

// Guard re-checks the current route against the snapshot stored by
// Middleware. Page handlers call it right before rendering, so a page mounted
// outside the middleware still fails closed. Nothing is audited here.
func (g *Gate) Guard(r *http.Request) Decision {
	path := r.URL.Path
	api := g.registry.IsAPI(path)
	if g.registry.IsPublic(path) {
		return Decision{Outcome: OutcomeAllow, Allowed: true, Reason: "public route", API: api}
	}
	snap := identity.SnapshotFromContext(r.Context())
	if !snap.Authenticated() {
		return g.unauthenticated(Request{Path: path, RawQuery: r.URL.RawQuery, Method: r.Method}, api)
	}
	dec := g.authorize(path, snap, api)
	dec.Identity = identity.Resolution{Snapshot: snap, Token: identity.TokenFromContext(r.Context())}
	return dec
}

// Page wraps a page handler with Guard.
func (g *Gate) Page(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dec := g.Guard(r); !dec.Proceeds() {
			g.respond(w, r, dec)
			return
		}
		h(w, r)
	})
}

// RequirePermission narrows a handler beyond the route table: the caller
// needs at least one of permissions, directly or through manage:<resource>.
func (g *Gate) RequirePermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := identity.SnapshotFromContext(r.Context())
			api := g.registry.IsAPI(r.URL.Path)
			if !snap.Authenticated() {
				g.respond(w, r, g.unauthenticated(Request{Path: r.URL.Path, RawQuery: r.URL.RawQuery, Method: r.Method}, api))
				return
			}
			for _, p := range permissions {
				if snap.Has(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			dec := Decision{Outcome: OutcomeForbidden, Status: http.StatusForbidden, Message: "insufficient permissions", API: api}
			if !api {
				dec = denyPage(dec, "missing required permissions")
			}
			g.respond(w, r, dec)
		})
	}
}
