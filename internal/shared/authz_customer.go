package shared

// Customer self-service permissions.
const (
	PermProfileView   = "view:profile"
	PermProfileUpdate = "update:profile"
)

// CustomerScopes lists permissions granted to self-service customers.
func CustomerScopes() []string {
	return []string{PermProfileView, PermProfileUpdate}
}
