package rbac

import "time"

// Built-in role names. These are seeded at install time and cannot be deleted.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleCustomer = "customer"
)

// DefaultRole is assigned to users that sign in through an identity provider
// without any role assignment.
const DefaultRole = RoleCustomer

// Permission represents an atomic capability in "<action>:<resource>" form.
type Permission struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Action      string `json:"action"`
	Resource    string `json:"resource"`
	Description string `json:"description,omitempty"`
}

// Role represents a named bundle of permissions.
type Role struct {
	ID          int64        `json:"id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"-"`
	UpdatedAt   time.Time    `json:"-"`
}

// UserRoleAssignment links a user to a role.
type UserRoleAssignment struct {
	UserID    string
	RoleID    int64
	CreatedAt time.Time
}

// IsBuiltInRole reports whether name is one of the seeded roles.
func IsBuiltInRole(name string) bool {
	switch name {
	case RoleAdmin, RoleManager, RoleCustomer:
		return true
	}
	return false
}

// BuiltInRoles lists the seeded role names.
func BuiltInRoles() []string {
	return []string{RoleAdmin, RoleManager, RoleCustomer}
}
