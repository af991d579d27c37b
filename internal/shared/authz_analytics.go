package shared

// Analytics and reporting permissions.
const (
	PermAnalyticsView = "view:analytics"
	PermReportsView   = "view:reports"
)

// AnalyticsScopes returns permissions needed for the analytics dashboard and reports.
func AnalyticsScopes() []string {
	return []string{
		PermAnalyticsView,
		PermReportsView,
	}
}
