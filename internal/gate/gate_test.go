package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/ratelimit"
	"github.com/tenantdesk/tenantdesk/internal/rbac"
	"github.com/tenantdesk/tenantdesk/internal/routing"
)

var catalog = map[string][]string{
	rbac.RoleAdmin:    {"view:users", "manage:users", "view:roles", "manage:roles", "view:analytics"},
	rbac.RoleManager:  {"view:users", "view:reports", "view:analytics"},
	rbac.RoleCustomer: {"view:profile", "view:subscription"},
}

func roleNamed(name string) rbac.Role {
	r := rbac.Role{Name: name, Permissions: []rbac.Permission{}}
	for _, p := range catalog[name] {
		r.Permissions = append(r.Permissions, rbac.Permission{Name: p})
	}
	return r
}

func tokenWith(userID string, roles ...string) *identity.Token {
	tok := &identity.Token{UserID: userID, Roles: []rbac.Role{}}
	for _, name := range roles {
		tok.Roles = append(tok.Roles, roleNamed(name))
	}
	return tok
}

type resolverFunc func(ctx context.Context, tok *identity.Token) (identity.Resolution, error)

func (f resolverFunc) Resolve(ctx context.Context, tok *identity.Token) (identity.Resolution, error) {
	return f(ctx, tok)
}

// claimResolver trusts embedded roles, mirroring the identity fast path.
var claimResolver = resolverFunc(func(_ context.Context, tok *identity.Token) (identity.Resolution, error) {
	if tok == nil {
		return identity.Resolution{Snapshot: identity.Unauthenticated()}, nil
	}
	return identity.Resolution{Snapshot: identity.NewSnapshot(tok.UserID, tok.Roles), Token: tok}, nil
})

type captureSink struct {
	mu      sync.Mutex
	records []AuditRecord
	err     error
}

func (s *captureSink) Record(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *captureSink) last(t *testing.T) AuditRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		t.Fatalf("expected an audit record")
	}
	return s.records[len(s.records)-1]
}

func newGate(resolver Resolver, limiter ratelimit.Limiter) (*Gate, *captureSink) {
	sink := &captureSink{}
	g := New(Options{
		Registry: routing.Default(),
		Resolver: resolver,
		Codec:    identity.NewTokenCodec("test-secret", time.Hour, "tenantdesk_token", false),
		Limiter:  limiter,
		Audit:    sink,
	})
	return g, sink
}

func get(path string) Request {
	return Request{Path: path, Method: http.MethodGet, ClientKey: "10.0.0.1"}
}

func TestAnonymousSectionPageRedirectsToLogin(t *testing.T) {
	g, sink := newGate(claimResolver, nil)
	dec := g.Decide(context.Background(), get("/admin/dashboard"), nil)

	require.Equal(t, OutcomeRedirectLogin, dec.Outcome)
	require.Equal(t, http.StatusSeeOther, dec.Status)
	require.Equal(t, "/login?callbackUrl=/admin/dashboard", dec.Redirect)
	require.False(t, sink.last(t).Allowed)
}

// The coarse section check fails before the permission check runs.
func TestCustomerInAdminSectionIsUnauthorized(t *testing.T) {
	g, sink := newGate(claimResolver, nil)
	dec := g.Decide(context.Background(), get("/admin/dashboard"), tokenWith("u-1", rbac.RoleCustomer))

	require.Equal(t, OutcomeUnauthorized, dec.Outcome)
	require.Equal(t, UnauthorizedPath, dec.Redirect)
	require.Equal(t, "role not allowed in section", dec.Reason)

	rec := sink.last(t)
	require.Equal(t, "/admin/dashboard", rec.Path)
	require.Equal(t, []string{rbac.RoleCustomer}, rec.Roles)
	require.Equal(t, []string{}, rec.Required)
	require.False(t, rec.Allowed)
	require.Equal(t, "u-1", rec.UserID)
}

func TestSectionThenPermissionCheck(t *testing.T) {
	g, _ := newGate(claimResolver, nil)
	ctx := context.Background()

	dec := g.Decide(ctx, get("/admin/users/42"), tokenWith("m-1", rbac.RoleManager))
	require.Equal(t, OutcomeAllow, dec.Outcome)
	require.Equal(t, []string{"view:users", "manage:users"}, dec.Required)

	dec = g.Decide(ctx, get("/admin/roles"), tokenWith("m-1", rbac.RoleManager))
	require.Equal(t, OutcomeUnauthorized, dec.Outcome)
	require.Equal(t, "missing required permissions", dec.Reason)

	dec = g.Decide(ctx, get("/customer/profile"), tokenWith("c-1", rbac.RoleCustomer))
	require.Equal(t, OutcomeAllow, dec.Outcome)

	dec = g.Decide(ctx, get("/customer/profile"), tokenWith("a-1", rbac.RoleAdmin))
	require.Equal(t, OutcomeUnauthorized, dec.Outcome)
}

func TestDefaultBranchUsesPermissionsOnly(t *testing.T) {
	g, _ := newGate(claimResolver, nil)
	dec := g.Decide(context.Background(), get("/dashboard"), tokenWith("u-1"))
	require.Equal(t, OutcomeAllow, dec.Outcome)
}

func TestPublicRoutes(t *testing.T) {
	g, sink := newGate(claimResolver, nil)
	ctx := context.Background()

	dec := g.Decide(ctx, get("/api/health"), nil)
	require.Equal(t, OutcomeAllow, dec.Outcome)
	require.True(t, sink.last(t).Allowed)

	dec = g.Decide(ctx, get("/login"), nil)
	require.Equal(t, OutcomeAllow, dec.Outcome)

	dec = g.Decide(ctx, get("/login"), tokenWith("u-1", rbac.RoleCustomer))
	require.Equal(t, OutcomeRedirectDashboard, dec.Outcome)
	require.Equal(t, DashboardPath, dec.Redirect)

	dec = g.Decide(ctx, get("/about"), tokenWith("u-1", rbac.RoleCustomer))
	require.Equal(t, OutcomeAllow, dec.Outcome)
}

func TestPublicRouteCarriesIdentity(t *testing.T) {
	g, sink := newGate(claimResolver, nil)
	dec := g.Decide(context.Background(), get("/api/auth/session"), tokenWith("c-1", rbac.RoleCustomer))
	require.Equal(t, OutcomeAllow, dec.Outcome)
	require.Equal(t, "c-1", dec.Identity.Snapshot.UserID)
	require.Equal(t, []string{rbac.RoleCustomer}, sink.last(t).Roles)

	failing := resolverFunc(func(context.Context, *identity.Token) (identity.Resolution, error) {
		return identity.Resolution{}, errors.New("db down")
	})
	g, _ = newGate(failing, nil)
	dec = g.Decide(context.Background(), get("/about"), tokenWith("c-1", rbac.RoleCustomer))
	require.Equal(t, OutcomeAllow, dec.Outcome)
	require.False(t, dec.Identity.Snapshot.Authenticated())
}

func TestSkipIsNotAudited(t *testing.T) {
	g, sink := newGate(claimResolver, nil)
	for _, path := range []string{"/static/app.css", "/api/auth/callback/oidc"} {
		dec := g.Decide(context.Background(), get(path), nil)
		require.Equal(t, OutcomeSkip, dec.Outcome)
	}
	require.Empty(t, sink.records)
}

func TestAPIBranch(t *testing.T) {
	g, _ := newGate(claimResolver, nil)
	ctx := context.Background()

	dec := g.Decide(ctx, get("/api/users"), nil)
	require.Equal(t, OutcomeUnauthenticated, dec.Outcome)
	require.Equal(t, http.StatusUnauthorized, dec.Status)
	require.Empty(t, dec.Redirect)

	dec = g.Decide(ctx, get("/api/users"), tokenWith("c-1", rbac.RoleCustomer))
	require.Equal(t, OutcomeForbidden, dec.Outcome)
	require.Equal(t, http.StatusForbidden, dec.Status)

	dec = g.Decide(ctx, get("/api/users"), tokenWith("m-1", rbac.RoleManager))
	require.Equal(t, OutcomeAllow, dec.Outcome)

	// Section rules do not apply to API paths.
	dec = g.Decide(ctx, get("/api/profile"), tokenWith("c-1", rbac.RoleCustomer))
	require.Equal(t, OutcomeAllow, dec.Outcome)
}

func TestAPIRequireAll(t *testing.T) {
	g, _ := newGate(claimResolver, nil)
	ctx := context.Background()

	partial := &identity.Token{UserID: "u-1", Roles: []rbac.Role{{Name: "support", Permissions: []rbac.Permission{{Name: "manage:users"}}}}}
	dec := g.Decide(ctx, get("/api/admin/assignments"), partial)
	require.Equal(t, OutcomeForbidden, dec.Outcome)
	require.True(t, dec.RequireAll)

	dec = g.Decide(ctx, get("/api/admin/assignments"), tokenWith("a-1", rbac.RoleAdmin))
	require.Equal(t, OutcomeAllow, dec.Outcome)
}

func TestResolverFailureFailsClosed(t *testing.T) {
	failing := resolverFunc(func(context.Context, *identity.Token) (identity.Resolution, error) {
		return identity.Resolution{Snapshot: identity.Unauthenticated()}, errors.New("store down")
	})
	g, sink := newGate(failing, nil)
	ctx := context.Background()

	dec := g.Decide(ctx, get("/dashboard"), &identity.Token{UserID: "u-1"})
	require.Equal(t, OutcomeError, dec.Outcome)
	require.Equal(t, "/login?callbackUrl=/dashboard", dec.Redirect)
	require.False(t, dec.Allowed)

	dec = g.Decide(ctx, get("/api/users"), &identity.Token{UserID: "u-1"})
	require.Equal(t, OutcomeError, dec.Outcome)
	require.Equal(t, http.StatusInternalServerError, dec.Status)
	require.Equal(t, OutcomeError, sink.last(t).Outcome)
}

func TestResolverPanicFailsClosed(t *testing.T) {
	panicking := resolverFunc(func(context.Context, *identity.Token) (identity.Resolution, error) {
		panic("boom")
	})
	g, _ := newGate(panicking, nil)
	dec := g.Decide(context.Background(), get("/admin/users"), &identity.Token{UserID: "u-1"})
	require.Equal(t, OutcomeError, dec.Outcome)
	require.False(t, dec.Proceeds())
}

func TestAbortedRequestIsNotAudited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := resolverFunc(func(ctx context.Context, _ *identity.Token) (identity.Resolution, error) {
		cancel()
		return identity.Resolution{Snapshot: identity.Unauthenticated()}, ctx.Err()
	})
	g, sink := newGate(blocking, nil)
	dec := g.Decide(ctx, get("/dashboard"), &identity.Token{UserID: "u-1"})
	require.False(t, dec.Proceeds())
	require.Empty(t, sink.records)
}

func TestRateLimiting(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Policies{ratelimit.ClassAuth: {Limit: 2, Window: time.Minute}})
	g, sink := newGate(claimResolver, limiter)
	ctx := context.Background()
	login := Request{Path: "/api/auth/login", Method: http.MethodPost, ClientKey: "10.0.0.9"}

	for i := 0; i < 2; i++ {
		dec := g.Decide(ctx, login, nil)
		require.Equal(t, OutcomeAllow, dec.Outcome)
		require.NotNil(t, dec.RateLimit)
	}
	dec := g.Decide(ctx, login, nil)
	require.Equal(t, OutcomeRateLimited, dec.Outcome)
	require.Equal(t, http.StatusTooManyRequests, dec.Status)
	require.Equal(t, OutcomeRateLimited, sink.last(t).Outcome)

	page := g.Decide(ctx, Request{Path: "/login", Method: http.MethodPost, ClientKey: "10.0.0.9"}, nil)
	require.Equal(t, OutcomeRateLimited, page.Outcome)
	require.Equal(t, TooManyRequestsPath, page.Redirect)

	other := g.Decide(ctx, Request{Path: "/api/auth/login", Method: http.MethodPost, ClientKey: "10.0.0.10"}, nil)
	require.Equal(t, OutcomeAllow, other.Outcome)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, ratelimit.Class, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func TestLimiterFailureDoesNotOpenAuthorization(t *testing.T) {
	g, _ := newGate(claimResolver, brokenLimiter{})
	dec := g.Decide(context.Background(), get("/api/users"), nil)
	require.Equal(t, OutcomeUnauthenticated, dec.Outcome)

	dec = g.Decide(context.Background(), get("/api/users"), tokenWith("m-1", rbac.RoleManager))
	require.Equal(t, OutcomeAllow, dec.Outcome)
}

func TestAuditFailureDoesNotChangeDecision(t *testing.T) {
	g, sink := newGate(claimResolver, nil)
	sink.err = errors.New("disk full")
	dec := g.Decide(context.Background(), get("/dashboard"), tokenWith("u-1", rbac.RoleCustomer))
	require.Equal(t, OutcomeAllow, dec.Outcome)
}

func TestLoginRedirectKeepsQuery(t *testing.T) {
	require.Equal(t, "/login?callbackUrl=/admin/users%3Fpage%3D2", LoginRedirect("/admin/users", "page=2"))
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	ok := &captureSink{}
	bad := &captureSink{err: errors.New("nope")}
	err := MultiSink{ok, bad}.Record(context.Background(), AuditRecord{Path: "/x"})
	require.Error(t, err)
	require.Len(t, ok.records, 1)
	require.Len(t, bad.records, 1)
}

func TestMiddleware(t *testing.T) {
	g, _ := newGate(claimResolver, nil)
	var seen identity.Snapshot
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = identity.SnapshotFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous page", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, "/login?callbackUrl=/admin/dashboard", rec.Header().Get("Location"))
	})

	t.Run("forbidden api", func(t *testing.T) {
		signed, err := g.codec.Issue(*tokenWith("c-1", rbac.RoleCustomer))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusForbidden, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "insufficient permissions", body["error"])
		require.NotEmpty(t, body["timestamp"])
	})

	t.Run("allowed page stores snapshot", func(t *testing.T) {
		signed, err := g.codec.Issue(*tokenWith("m-1", rbac.RoleManager))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/manager/reports", nil)
		req.AddCookie(g.codec.Cookie(signed))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "m-1", seen.UserID)
		require.True(t, seen.Has("view:reports"))
	})

	t.Run("garbage token clears cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: "tenantdesk_token", Value: "not-a-jwt"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Contains(t, rec.Header().Get("Set-Cookie"), "tenantdesk_token=;")
	})
}

func TestMiddlewareReissuesRefreshedToken(t *testing.T) {
	refreshing := resolverFunc(func(_ context.Context, tok *identity.Token) (identity.Resolution, error) {
		if tok == nil {
			return identity.Resolution{Snapshot: identity.Unauthenticated()}, nil
		}
		refreshed := *tok
		refreshed.Roles = []rbac.Role{roleNamed(rbac.RoleCustomer)}
		return identity.Resolution{Snapshot: identity.NewSnapshot(tok.UserID, refreshed.Roles), Token: &refreshed, Refreshed: true}, nil
	})
	g, _ := newGate(refreshing, nil)
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	signed, err := g.codec.Issue(identity.Token{UserID: "c-1", Provider: identity.ProviderOIDC})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/customer/billing", nil)
	req.AddCookie(g.codec.Cookie(signed))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	tok, err := g.codec.Parse(cookies[0].Value)
	require.NoError(t, err)
	require.Equal(t, []string{rbac.RoleCustomer}, rbac.RoleNames(tok.Roles))
}

func TestMiddlewareRateLimitHeaders(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Policies{ratelimit.ClassAuth: {Limit: 1, Window: time.Minute}})
	g, _ := newGate(claimResolver, limiter)
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := send()
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.NotEmpty(t, second.Header().Get("Retry-After"))
	require.Contains(t, second.Body.String(), "too many requests")
}

func TestGuardAndPage(t *testing.T) {
	g, _ := newGate(claimResolver, nil)
	page := g.Page(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin/analytics", nil)
	rec := httptest.NewRecorder()
	page.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login?callbackUrl=/admin/analytics", rec.Header().Get("Location"))

	snap := identity.NewSnapshot("m-1", []rbac.Role{roleNamed(rbac.RoleManager)})
	req = req.WithContext(identity.WithSnapshot(req.Context(), snap))
	rec = httptest.NewRecorder()
	page.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	dec := g.Guard(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, OutcomeAllow, dec.Outcome)
}

func TestRequirePermission(t *testing.T) {
	g, _ := newGate(claimResolver, nil)
	h := g.RequirePermission("delete:users")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	admin := identity.NewSnapshot("a-1", []rbac.Role{roleNamed(rbac.RoleAdmin)})
	req := httptest.NewRequest(http.MethodDelete, "/api/users/1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(identity.WithSnapshot(req.Context(), admin)))
	require.Equal(t, http.StatusOK, rec.Code, "manage:users implies delete:users")

	manager := identity.NewSnapshot("m-1", []rbac.Role{roleNamed(rbac.RoleManager)})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(identity.WithSnapshot(req.Context(), manager)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	pageReq := httptest.NewRequest(http.MethodGet, "/admin/users/1/delete", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, pageReq.WithContext(identity.WithSnapshot(pageReq.Context(), manager)))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, UnauthorizedPath, rec.Header().Get("Location"))
}
