// Package gate decides, for every inbound request, whether it proceeds,
// is redirected, or is refused.
package gate

import (
	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/ratelimit"
)

// Outcome is the terminal state of a gate decision.
type Outcome string

const (
	OutcomeSkip              Outcome = "skip"
	OutcomeAllow             Outcome = "allow"
	OutcomeRedirectLogin     Outcome = "redirect_login"
	OutcomeRedirectDashboard Outcome = "redirect_dashboard"
	OutcomeUnauthorized      Outcome = "unauthorized"
	OutcomeForbidden         Outcome = "forbidden"
	OutcomeUnauthenticated   Outcome = "unauthenticated"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeError             Outcome = "error"
)

// Redirect targets.
const (
	LoginPath           = "/login"
	DashboardPath       = "/dashboard"
	UnauthorizedPath    = "/unauthorized"
	TooManyRequestsPath = "/too-many-requests"
)

// Request is the part of an HTTP request the gate looks at.
type Request struct {
	Path      string
	RawQuery  string
	Method    string
	ClientKey string
}

// Decision is the gate's verdict. Status is the HTTP status to answer with
// and Redirect the Location for page redirects; both are zero when the
// request proceeds.
type Decision struct {
	Outcome    Outcome
	Status     int
	Redirect   string
	Message    string
	Section    string
	Required   []string
	RequireAll bool
	Roles      []string
	Allowed    bool
	Reason     string
	API        bool
	RateLimit  *ratelimit.Result
	Identity   identity.Resolution
}

// Proceeds reports whether the request continues to its handler.
func (d Decision) Proceeds() bool {
	return d.Outcome == OutcomeAllow || d.Outcome == OutcomeSkip
}
