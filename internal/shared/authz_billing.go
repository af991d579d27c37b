package shared

// Billing and subscription permissions.
const (
	PermBillingView   = "view:billing"
	PermBillingManage = "manage:billing"

	PermSubscriptionView   = "view:subscription"
	PermSubscriptionManage = "manage:subscription"
)

// BillingScopes returns permissions guarding billing screens and APIs.
func BillingScopes() []string {
	return []string{
		PermBillingView,
		PermBillingManage,
		PermSubscriptionView,
		PermSubscriptionManage,
	}
}
