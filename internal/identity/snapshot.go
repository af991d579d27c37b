// Package identity turns a signed identity token into the role and permission
// snapshot that authorization decisions are made against.
package identity

import (
	"errors"

	"github.com/tenantdesk/tenantdesk/internal/rbac"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Snapshot is the resolved identity for one request. Permissions is always
// derived from Roles and never stored on its own.
type Snapshot struct {
	UserID      string
	Roles       []rbac.Role
	Permissions []string
}

// NewSnapshot builds a snapshot and derives its permission set.
func NewSnapshot(userID string, roles []rbac.Role) Snapshot {
	if roles == nil {
		roles = []rbac.Role{}
	}
	return Snapshot{UserID: userID, Roles: roles, Permissions: rbac.UserPermissions(roles)}
}

// Unauthenticated is the snapshot of a request without identity: no user, no
// roles, no permissions.
func Unauthenticated() Snapshot {
	return Snapshot{Roles: []rbac.Role{}, Permissions: []string{}}
}

// Authenticated reports whether the snapshot belongs to a signed-in user.
func (s Snapshot) Authenticated() bool {
	return s.UserID != ""
}

// RoleNames returns the snapshot's role names.
func (s Snapshot) RoleNames() []string {
	return rbac.RoleNames(s.Roles)
}

// Has reports whether permission is granted directly or through
// manage:<resource>.
func (s Snapshot) Has(permission string) bool {
	return rbac.HasHierarchicalPermission(s.Permissions, permission)
}
