package rbac

import (
	"sort"

	"github.com/tenantdesk/tenantdesk/internal/shared"
)

// manageAction is the coarse action that implies every other action on the
// same resource.
const manageAction = "manage"

// HasPermission reports whether any role grants permission.
func HasPermission(roles []Role, permission string) bool {
	if permission == "" {
		return false
	}
	for _, role := range roles {
		for _, p := range role.Permissions {
			if p.Name == permission {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission reports whether at least one of names is granted.
func HasAnyPermission(roles []Role, names []string) bool {
	for _, name := range names {
		if HasPermission(roles, name) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of names is granted. An empty
// names list is never satisfied.
func HasAllPermissions(roles []Role, names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if !HasPermission(roles, name) {
			return false
		}
	}
	return true
}

// HasRole reports whether roles contains a role called name.
func HasRole(roles []Role, name string) bool {
	if name == "" {
		return false
	}
	for _, role := range roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether roles contains any of names.
func HasAnyRole(roles []Role, names []string) bool {
	for _, name := range names {
		if HasRole(roles, name) {
			return true
		}
	}
	return false
}

// HasHierarchicalPermission reports whether required is granted directly or
// through manage:<resource> on the same resource.
func HasHierarchicalPermission(permissionNames []string, required string) bool {
	if required == "" {
		return false
	}
	_, resource, ok := ParsePermission(required)
	manage := ""
	if ok {
		manage = CreatePermissionName(manageAction, resource)
	}
	for _, p := range permissionNames {
		if p == required || (manage != "" && p == manage) {
			return true
		}
	}
	return false
}

// IsAdmin detects administrators by role name OR by holding manage:users or
// manage:roles. Both paths are intentional: seeded admins are found by name,
// custom roles granted the management permissions are found by permission.
func IsAdmin(roles []Role) bool {
	return isAdminByRoleName(roles) || isAdminByPermission(roles)
}

func isAdminByRoleName(roles []Role) bool {
	return HasRole(roles, RoleAdmin)
}

func isAdminByPermission(roles []Role) bool {
	return HasAnyPermission(roles, []string{shared.PermUsersManage, shared.PermRolesManage})
}

// IsManagerOrAbove reports whether roles include admin or manager.
func IsManagerOrAbove(roles []Role) bool {
	return HasAnyRole(roles, []string{RoleAdmin, RoleManager})
}

// UserPermissions returns the sorted, deduplicated union of permission names
// across roles.
func UserPermissions(roles []Role) []string {
	seen := make(map[string]struct{})
	perms := make([]string, 0)
	for _, role := range roles {
		for _, p := range role.Permissions {
			if p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			perms = append(perms, p.Name)
		}
	}
	sort.Strings(perms)
	return perms
}

// RoleNames returns the role names in input order.
func RoleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names
}
