package rbac

import (
	"context"
	"fmt"

	"github.com/tenantdesk/tenantdesk/internal/shared"
)

// RoleGrant describes a role and the permission names it should hold.
type RoleGrant struct {
	Name        string
	Description string
	Permissions []string
}

// DefaultCatalog returns the grants of the built-in roles.
func DefaultCatalog() []RoleGrant {
	admin := append(append(shared.CoreScopes(), shared.AnalyticsScopes()...), shared.BillingScopes()...)
	return []RoleGrant{
		{Name: RoleAdmin, Description: "Full administrative access", Permissions: admin},
		{Name: RoleManager, Description: "Team oversight and reporting", Permissions: []string{
			shared.PermUsersView, shared.PermReportsView, shared.PermAnalyticsView,
		}},
		{Name: RoleCustomer, Description: "Self-service customer", Permissions: []string{
			shared.PermProfileView, shared.PermProfileUpdate, shared.PermSubscriptionView,
		}},
	}
}

// CatalogStore is the write surface used by ApplyCatalog.
type CatalogStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	EnsurePermission(ctx context.Context, action, resource, description string) (Permission, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
}

// ApplyCatalog makes the store hold exactly the given grants for each listed
// role. Roles not in grants are left alone. Running it twice is a no-op.
func ApplyCatalog(ctx context.Context, store CatalogStore, grants []RoleGrant) error {
	permIDs := make(map[string]int64)
	for _, g := range grants {
		for _, name := range g.Permissions {
			if _, ok := permIDs[name]; ok {
				continue
			}
			action, resource, ok := ParsePermission(name)
			if !ok {
				return fmt.Errorf("rbac: catalog role %s: %w", g.Name, &ValidationError{Fields: map[string]string{"name": fmt.Sprintf("malformed permission %q", name)}})
			}
			p, err := store.EnsurePermission(ctx, action, resource, "")
			if err != nil {
				return fmt.Errorf("rbac: ensure permission %s: %w", name, err)
			}
			permIDs[name] = p.ID
		}
	}

	existing, err := store.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("rbac: list roles: %w", err)
	}
	roleIDs := make(map[string]int64, len(existing))
	for _, r := range existing {
		roleIDs[r.Name] = r.ID
	}

	for _, g := range grants {
		id, ok := roleIDs[g.Name]
		if !ok {
			role, err := store.CreateRole(ctx, g.Name, g.Description)
			if err != nil {
				return fmt.Errorf("rbac: create role %s: %w", g.Name, err)
			}
			id = role.ID
		}
		ids := make([]int64, 0, len(g.Permissions))
		for _, name := range g.Permissions {
			ids = append(ids, permIDs[name])
		}
		if err := store.SetRolePermissions(ctx, id, ids); err != nil {
			return fmt.Errorf("rbac: grant role %s: %w", g.Name, err)
		}
	}
	return nil
}
