// Package routing maps request paths to the permissions and role sections
// that guard them.
package routing

import (
	"strings"

	"github.com/tenantdesk/tenantdesk/internal/rbac"
)

// Rule binds a path prefix to the permissions required to reach it.
// RequireAll switches the combinator from ANY to ALL.
type Rule struct {
	Prefix      string   `yaml:"prefix"`
	Permissions []string `yaml:"permissions"`
	RequireAll  bool     `yaml:"require_all"`
}

// Section identifies a role-scoped top-level area of the application.
type Section string

const (
	SectionNone     Section = ""
	SectionAdmin    Section = "admin"
	SectionManager  Section = "manager"
	SectionCustomer Section = "customer"
)

const apiPrefix = "/api/"

// providerPaths are served by the identity provider itself.
var providerPaths = []string{"/api/auth/callback", "/api/auth/providers", "/api/auth/csrf"}

// staticPrefixes are served without any authorization work.
var staticPrefixes = []string{"/static/", "/assets/", "/favicon.ico", "/robots.txt"}

// Registry is an immutable route table. It is built once at start-up and
// shared read-only between requests.
type Registry struct {
	rules  []Rule
	public []string
	auth   map[string]struct{}
}

// New copies rules, public and auth into a Registry. Rule order is kept: it
// decides which prefix wins when several match.
func New(rules []Rule, public, auth []string) *Registry {
	reg := &Registry{
		rules:  make([]Rule, len(rules)),
		public: append([]string(nil), public...),
		auth:   make(map[string]struct{}, len(auth)),
	}
	for i, rule := range rules {
		reg.rules[i] = Rule{
			Prefix:      rule.Prefix,
			Permissions: append([]string{}, rule.Permissions...),
			RequireAll:  rule.RequireAll,
		}
	}
	for _, p := range auth {
		reg.auth[p] = struct{}{}
	}
	return reg
}

// Rules returns a copy of the table in declaration order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	for i, rule := range r.rules {
		out[i] = Rule{Prefix: rule.Prefix, Permissions: append([]string{}, rule.Permissions...), RequireAll: rule.RequireAll}
	}
	return out
}

// Lookup resolves path to a rule: an exact prefix match wins, otherwise the
// first rule in declaration order whose prefix starts path. Prefixes are
// compared as raw strings, so "/api/users" also covers "/api/usersettings".
func (r *Registry) Lookup(path string) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.Prefix == path {
			return rule, true
		}
	}
	for _, rule := range r.rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Permissions returns the permissions guarding path. An empty result means
// the path only needs an authenticated identity.
func (r *Registry) Permissions(path string) []string {
	rule, ok := r.Lookup(path)
	if !ok {
		return []string{}
	}
	return append([]string{}, rule.Permissions...)
}

// RequiresAll reports whether every permission of the matched rule is needed.
func (r *Registry) RequiresAll(path string) bool {
	rule, ok := r.Lookup(path)
	return ok && rule.RequireAll
}

// IsPublic reports whether path bypasses authentication. Entries match
// exactly or as a parent segment, never as a raw string prefix, so
// "/aboutus" is not covered by "/about". "/" matches only itself.
func (r *Registry) IsPublic(path string) bool {
	for _, entry := range r.public {
		if path == entry {
			return true
		}
		if entry == "/" {
			continue
		}
		if strings.HasPrefix(path, strings.TrimSuffix(entry, "/")+"/") {
			return true
		}
	}
	return false
}

// IsAuthRoute reports whether path is a sign-in or sign-up page.
func (r *Registry) IsAuthRoute(path string) bool {
	_, ok := r.auth[path]
	return ok
}

// IsAPI reports whether path is served as JSON API.
func (r *Registry) IsAPI(path string) bool {
	return path == "/api" || strings.HasPrefix(path, apiPrefix)
}

// IsStatic reports whether path is a static asset.
func (r *Registry) IsStatic(path string) bool {
	for _, p := range staticPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// IsIdentityProvider reports whether path belongs to the identity provider's
// own endpoints, which handle their own authentication.
func (r *Registry) IsIdentityProvider(path string) bool {
	for _, p := range providerPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// SectionFor returns the role-scoped section path lives under, if any.
func (r *Registry) SectionFor(path string) Section {
	switch {
	case strings.HasPrefix(path, "/admin"):
		return SectionAdmin
	case strings.HasPrefix(path, "/manager"):
		return SectionManager
	case strings.HasPrefix(path, "/customer"):
		return SectionCustomer
	}
	return SectionNone
}

// CanAccessRoute is the coarse role-name check for top-level sections. It
// runs before the permission check and never replaces it.
func (r *Registry) CanAccessRoute(path string, roleNames []string) bool {
	switch r.SectionFor(path) {
	case SectionAdmin, SectionManager:
		return containsAny(roleNames, rbac.RoleAdmin, rbac.RoleManager)
	case SectionCustomer:
		return containsAny(roleNames, rbac.RoleCustomer)
	}
	return len(roleNames) > 0
}

func containsAny(names []string, want ...string) bool {
	for _, n := range names {
		for _, w := range want {
			if n == w {
				return true
			}
		}
	}
	return false
}
