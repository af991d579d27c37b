package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tenantdesk/tenantdesk/internal/auth"
	"github.com/tenantdesk/tenantdesk/internal/gate"
	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/observability"
	"github.com/tenantdesk/tenantdesk/internal/ratelimit"
	"github.com/tenantdesk/tenantdesk/internal/rbac"
	"github.com/tenantdesk/tenantdesk/internal/routing"
	"github.com/tenantdesk/tenantdesk/internal/shared"
	"github.com/tenantdesk/tenantdesk/internal/view"
	_ "github.com/tenantdesk/tenantdesk/testing"
)

type noUsers struct{}

func (noUsers) FindByEmail(context.Context, string) (*auth.User, error) {
	return nil, shared.ErrNotFound
}

func (noUsers) CreateUser(context.Context, string, string, string) (*auth.User, error) {
	return nil, shared.ErrNotFound
}

type noRoles struct{}

func (noRoles) GetUserWithRoles(context.Context, string) (*rbac.UserWithRoles, error) {
	return nil, nil
}

type routerFixture struct {
	handler http.Handler
	codec   *identity.TokenCodec
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second}
	codec := identity.NewTokenCodec("token-secret", time.Hour, "tenantdesk_token", false)
	csrf := shared.NewCSRFManager("csrf-secret", false)
	resolver := identity.NewResolver(noRoles{}, nil)
	metrics := observability.NewMetrics()
	g := gate.New(gate.Options{
		Registry: routing.Default(),
		Resolver: resolver,
		Codec:    codec,
		Limiter:  ratelimit.NewMemoryLimiter(ratelimit.DefaultPolicies()),
		Metrics:  metrics,
	})
	authHandler := auth.NewHandler(nil, auth.NewService(noUsers{}, resolver, nil), codec, csrf, false)
	logger := NewLogger(cfg)
	h := NewRouter(RouterParams{
		Logger:      logger,
		Config:      cfg,
		Templates:   templates,
		CSRFManager: csrf,
		Gate:        g,
		AuthHandler: authHandler,
		Metrics:     metrics,
	})
	return routerFixture{handler: h, codec: codec}
}

func (f routerFixture) get(t *testing.T, path string, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if roles != nil {
		tok := identity.Token{UserID: "00000000-0000-0000-0000-000000000001", Roles: []rbac.Role{}}
		for _, name := range roles {
			role := rbac.Role{Name: name}
			if name == rbac.RoleCustomer {
				role.Permissions = []rbac.Permission{{Name: "view:profile"}, {Name: "view:subscription"}}
			}
			tok.Roles = append(tok.Roles, role)
		}
		signed, err := f.codec.Issue(tok)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		req.AddCookie(f.codec.Cookie(signed))
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthIsPublic(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.get(t, "/api/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected security headers, got %v", rr.Header())
	}
}

func TestDashboardRequiresSignIn(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.get(t, "/dashboard")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/login?callbackUrl=/dashboard" {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestDashboardRendersSnapshot(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.get(t, "/dashboard", rbac.RoleCustomer)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "view:subscription") || !strings.Contains(body, `href="/customer/profile"`) {
		t.Fatalf("expected customer dashboard, got %s", body)
	}
}

func TestCustomerCannotEnterAdminSection(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.get(t, "/admin/users", rbac.RoleCustomer)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != gate.UnauthorizedPath {
		t.Fatalf("expected redirect to unauthorized, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	rr = f.get(t, "/customer/profile", rbac.RoleCustomer)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAPIProfile(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.get(t, "/api/profile")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "100" {
		t.Fatalf("expected api rate limit headers, got %v", rr.Header())
	}

	rr = f.get(t, "/api/profile", rbac.RoleCustomer)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"view:profile"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestSignedInUserSkipsLoginPage(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.get(t, "/login", rbac.RoleCustomer)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != gate.DashboardPath {
		t.Fatalf("expected dashboard redirect, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	rr = f.get(t, "/login?callbackUrl=/customer/profile")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `value="/customer/profile"`) {
		t.Fatalf("expected callback in form, got %s", rr.Body.String())
	}
}

func TestLoginPageShowsSignInError(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.get(t, "/login?error=credentials&callbackUrl=%2Fadmin%2Fdashboard")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Invalid email or password.") {
		t.Fatalf("expected error message, got %s", body)
	}
	if !strings.Contains(body, `value="/admin/dashboard"`) {
		t.Fatalf("expected callback kept in form, got %s", body)
	}
}

func TestSessionEndpointSeesIdentity(t *testing.T) {
	f := newRouterFixture(t)
	rr := f.get(t, "/api/auth/session", rbac.RoleCustomer)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"authenticated":true`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestMetricsAndStaticBypassGate(t *testing.T) {
	f := newRouterFixture(t)
	f.get(t, "/dashboard")

	rr := f.get(t, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `tenantdesk_gate_decisions_total{outcome="redirect_login",section="none"} 1`) {
		t.Fatalf("expected gate decision metric, got %s", rr.Body.String())
	}

	rr = f.get(t, "/static/css/app.css")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") != "public, max-age=3600" {
		t.Fatalf("expected cache header, got %q", rr.Header().Get("Cache-Control"))
	}
}
