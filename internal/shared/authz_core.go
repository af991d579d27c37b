package shared

// Core platform permissions.
const (
	PermUsersView   = "view:users"
	PermUsersCreate = "create:users"
	PermUsersUpdate = "update:users"
	PermUsersDelete = "delete:users"
	PermUsersManage = "manage:users"

	PermRolesView   = "view:roles"
	PermRolesManage = "manage:roles"

	PermSettingsManage = "manage:settings"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersCreate,
		PermUsersUpdate,
		PermUsersDelete,
		PermUsersManage,
		PermRolesView,
		PermRolesManage,
		PermSettingsManage,
	}
}
