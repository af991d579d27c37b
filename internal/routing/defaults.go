package routing

import "github.com/tenantdesk/tenantdesk/internal/shared"

// DefaultRules is the built-in route table. Order matters: see Lookup.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/dashboard"},
		{Prefix: "/admin/users", Permissions: []string{shared.PermUsersView, shared.PermUsersManage}},
		{Prefix: "/admin/roles", Permissions: []string{shared.PermRolesView, shared.PermRolesManage}},
		{Prefix: "/admin/analytics", Permissions: []string{shared.PermAnalyticsView}},
		{Prefix: "/admin/billing", Permissions: []string{shared.PermBillingView, shared.PermBillingManage}},
		{Prefix: "/admin/settings", Permissions: []string{shared.PermSettingsManage}},
		{Prefix: "/manager/reports", Permissions: []string{shared.PermReportsView}},
		{Prefix: "/manager/customers", Permissions: []string{shared.PermUsersView}},
		{Prefix: "/customer/profile", Permissions: []string{shared.PermProfileView}},
		{Prefix: "/customer/billing", Permissions: []string{shared.PermSubscriptionView}},
		{Prefix: "/api/users", Permissions: []string{shared.PermUsersView, shared.PermUsersManage}},
		{Prefix: "/api/roles", Permissions: []string{shared.PermRolesView, shared.PermRolesManage}},
		{Prefix: "/api/permissions", Permissions: []string{shared.PermRolesView, shared.PermRolesManage}},
		{Prefix: "/api/admin/assignments", Permissions: []string{shared.PermUsersManage, shared.PermRolesManage}, RequireAll: true},
		{Prefix: "/api/analytics", Permissions: []string{shared.PermAnalyticsView}},
		{Prefix: "/api/profile", Permissions: []string{shared.PermProfileView}},
		{Prefix: "/api/subscription", Permissions: []string{shared.PermSubscriptionView}},
	}
}

// DefaultPublic lists paths reachable without signing in.
func DefaultPublic() []string {
	return []string{
		"/",
		"/about",
		"/contact",
		"/login",
		"/signup",
		"/unauthorized",
		"/too-many-requests",
		"/api/auth/callback",
		"/api/auth/session",
		"/api/auth/csrf",
		"/api/auth/providers",
		"/api/auth/login",
		"/api/auth/signout",
		"/api/health",
	}
}

// DefaultAuthRoutes lists pages that signed-in users are bounced away from.
func DefaultAuthRoutes() []string {
	return []string{"/login", "/signup"}
}

// Default builds the registry from the built-in tables.
func Default() *Registry {
	return New(DefaultRules(), DefaultPublic(), DefaultAuthRoutes())
}
