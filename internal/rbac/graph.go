package rbac

// UserWithRoles is the role/permission graph of one user as returned by the
// authoritative store.
type UserWithRoles struct {
	ID        string
	UserRoles []UserRole
}

// UserRole is one assignment edge of the graph.
type UserRole struct {
	Role RoleRecord
}

// RoleRecord is a stored role with its permission edges.
type RoleRecord struct {
	ID              int64
	Name            string
	Description     string
	RolePermissions []RolePermission
}

// RolePermission is one role-to-permission edge.
type RolePermission struct {
	Permission Permission
}

// Roles flattens the graph into Role values, dropping duplicate permissions
// within a role.
func (u *UserWithRoles) Roles() []Role {
	if u == nil {
		return []Role{}
	}
	roles := make([]Role, 0, len(u.UserRoles))
	for _, ur := range u.UserRoles {
		seen := make(map[string]struct{}, len(ur.Role.RolePermissions))
		perms := make([]Permission, 0, len(ur.Role.RolePermissions))
		for _, rp := range ur.Role.RolePermissions {
			if _, ok := seen[rp.Permission.Name]; ok {
				continue
			}
			seen[rp.Permission.Name] = struct{}{}
			perms = append(perms, rp.Permission)
		}
		roles = append(roles, Role{
			ID:          ur.Role.ID,
			Name:        ur.Role.Name,
			Description: ur.Role.Description,
			Permissions: perms,
		})
	}
	return roles
}
