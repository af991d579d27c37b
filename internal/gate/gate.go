package gate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/observability"
	"github.com/tenantdesk/tenantdesk/internal/ratelimit"
	"github.com/tenantdesk/tenantdesk/internal/rbac"
	"github.com/tenantdesk/tenantdesk/internal/routing"
)

// Resolver turns a token into an identity snapshot.
type Resolver interface {
	Resolve(ctx context.Context, tok *identity.Token) (identity.Resolution, error)
}

// Options groups the collaborators of a Gate. Limiter, Audit, Metrics and
// Logger are optional.
type Options struct {
	Registry *routing.Registry
	Resolver Resolver
	Codec    *identity.TokenCodec
	Limiter  ratelimit.Limiter
	Audit    AuditSink
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Gate evaluates requests against the route table and the caller's roles.
type Gate struct {
	registry *routing.Registry
	resolver Resolver
	codec    *identity.TokenCodec
	limiter  ratelimit.Limiter
	audit    AuditSink
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Gate.
func New(opts Options) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	audit := opts.Audit
	if audit == nil {
		audit = NewLogSink(logger)
	}
	return &Gate{
		registry: opts.Registry,
		resolver: opts.Resolver,
		codec:    opts.Codec,
		limiter:  opts.Limiter,
		audit:    audit,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Decide runs the gate for one request. The checks happen in a fixed order:
// skip, rate limit, public routes, authentication, then the API, section or
// default permission branch. Every decision except a skip is audited.
func (g *Gate) Decide(ctx context.Context, req Request, tok *identity.Token) Decision {
	api := g.registry.IsAPI(req.Path)
	if g.registry.IsStatic(req.Path) || g.registry.IsIdentityProvider(req.Path) {
		return Decision{Outcome: OutcomeSkip, Allowed: true, API: api, Reason: "static or identity provider"}
	}
	dec := g.decide(ctx, req, tok, api)
	if ctx.Err() != nil {
		// The request is gone; nothing is recorded for it.
		return dec
	}
	g.record(ctx, req, dec)
	return dec
}

func (g *Gate) decide(ctx context.Context, req Request, tok *identity.Token, api bool) Decision {
	limit, limited := g.rateLimit(ctx, req, api)
	if limited != nil {
		return *limited
	}

	if g.registry.IsPublic(req.Path) {
		// Public routes never fail on identity, but a valid identity is still
		// made available to the handler.
		var res identity.Resolution
		if tok != nil {
			var err error
			if res, err = g.resolve(ctx, tok); err != nil {
				g.logger.Debug("gate identity resolution failed on public route", slog.String("path", req.Path), slog.Any("error", err))
				res = identity.Resolution{Snapshot: identity.Unauthenticated()}
			}
		}
		if g.registry.IsAuthRoute(req.Path) && res.Snapshot.Authenticated() {
			return Decision{
				Outcome:  OutcomeRedirectDashboard,
				Status:   http.StatusSeeOther,
				Redirect: DashboardPath,
				Roles:    res.Snapshot.RoleNames(),
				Allowed:  true,
				Reason:   "already signed in",
				API:      api,
				Identity: res,
			}
		}
		return Decision{
			Outcome:   OutcomeAllow,
			Roles:     nonNil(res.Snapshot.RoleNames()),
			Allowed:   true,
			Reason:    "public route",
			API:       api,
			RateLimit: limit,
			Identity:  res,
		}
	}

	res, err := g.resolve(ctx, tok)
	if err != nil {
		g.logger.Error("gate identity resolution failed", slog.String("path", req.Path), slog.Any("error", err))
		dec := g.failure(req, api)
		dec.RateLimit = limit
		return dec
	}
	if !res.Snapshot.Authenticated() {
		dec := g.unauthenticated(req, api)
		dec.RateLimit = limit
		dec.Identity = res
		return dec
	}

	dec := g.authorize(req.Path, res.Snapshot, api)
	dec.RateLimit = limit
	dec.Identity = res
	return dec
}

// authorize applies the permission branches to an authenticated snapshot.
func (g *Gate) authorize(path string, snap identity.Snapshot, api bool) Decision {
	section := g.registry.SectionFor(path)
	dec := Decision{
		Section:    string(section),
		Required:   g.registry.Permissions(path),
		RequireAll: g.registry.RequiresAll(path),
		Roles:      snap.RoleNames(),
		API:        api,
	}

	if api {
		if !permitted(snap.Roles, dec.Required, dec.RequireAll) {
			dec.Outcome = OutcomeForbidden
			dec.Status = http.StatusForbidden
			dec.Message = "insufficient permissions"
			dec.Reason = "missing required permissions"
			return dec
		}
		dec.Outcome, dec.Allowed, dec.Reason = OutcomeAllow, true, "permissions granted"
		return dec
	}

	if section != routing.SectionNone && !g.registry.CanAccessRoute(path, dec.Roles) {
		return denyPage(dec, "role not allowed in section")
	}
	if !permitted(snap.Roles, dec.Required, dec.RequireAll) {
		return denyPage(dec, "missing required permissions")
	}
	dec.Outcome, dec.Allowed, dec.Reason = OutcomeAllow, true, "permissions granted"
	return dec
}

func denyPage(dec Decision, reason string) Decision {
	dec.Outcome = OutcomeUnauthorized
	dec.Status = http.StatusSeeOther
	dec.Redirect = UnauthorizedPath
	dec.Reason = reason
	return dec
}

// permitted treats an empty requirement as satisfied by any signed-in user.
func permitted(roles []rbac.Role, required []string, requireAll bool) bool {
	if len(required) == 0 {
		return true
	}
	if requireAll {
		return rbac.HasAllPermissions(roles, required)
	}
	return rbac.HasAnyPermission(roles, required)
}

func (g *Gate) unauthenticated(req Request, api bool) Decision {
	if api {
		return Decision{
			Outcome: OutcomeUnauthenticated,
			Status:  http.StatusUnauthorized,
			Message: "authentication required",
			Reason:  "no identity",
			API:     true,
		}
	}
	return Decision{
		Outcome:  OutcomeRedirectLogin,
		Status:   http.StatusSeeOther,
		Redirect: LoginRedirect(req.Path, req.RawQuery),
		Reason:   "no identity",
	}
}

func (g *Gate) failure(req Request, api bool) Decision {
	if api {
		return Decision{
			Outcome: OutcomeError,
			Status:  http.StatusInternalServerError,
			Message: "internal error",
			Reason:  "identity lookup failed",
			API:     true,
		}
	}
	return Decision{
		Outcome:  OutcomeError,
		Status:   http.StatusSeeOther,
		Redirect: LoginRedirect(req.Path, req.RawQuery),
		Reason:   "identity lookup failed",
	}
}

func (g *Gate) rateLimit(ctx context.Context, req Request, api bool) (*ratelimit.Result, *Decision) {
	if g.limiter == nil {
		return nil, nil
	}
	class := ratelimit.ClassFor(g.registry, req.Path, req.Method)
	if class == ratelimit.ClassNone {
		return nil, nil
	}
	key := req.ClientKey
	if key == "" {
		key = "anonymous"
	}
	res, err := g.limiter.Allow(ctx, class, key)
	if err != nil {
		// Limiting fails open; authorization below still fails closed.
		g.logger.Warn("rate limiter unavailable", slog.String("class", class.String()), slog.Any("error", err))
		return nil, nil
	}
	if res.Allowed {
		return &res, nil
	}
	g.metrics.ObserveRateLimited(class.String())
	g.logger.Warn("security event: rate limit exceeded",
		slog.String("class", class.String()),
		slog.String("client", key),
		slog.String("path", req.Path))
	dec := Decision{Outcome: OutcomeRateLimited, Reason: "rate limit exceeded", API: api, RateLimit: &res}
	if api {
		dec.Status = http.StatusTooManyRequests
		dec.Message = "too many requests"
	} else {
		dec.Status = http.StatusSeeOther
		dec.Redirect = TooManyRequestsPath
	}
	return &res, &dec
}

func (g *Gate) resolve(ctx context.Context, tok *identity.Token) (res identity.Resolution, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = identity.Resolution{Snapshot: identity.Unauthenticated()}
			err = fmt.Errorf("gate: resolver panic: %v", p)
		}
	}()
	return g.resolver.Resolve(ctx, tok)
}

func (g *Gate) record(ctx context.Context, req Request, dec Decision) {
	g.metrics.ObserveDecision(string(dec.Outcome), dec.Section)
	rec := AuditRecord{
		ID:         uuid.New(),
		At:         g.now().UTC(),
		Path:       req.Path,
		Method:     req.Method,
		UserID:     dec.Identity.Snapshot.UserID,
		Roles:      nonNil(dec.Roles),
		Required:   nonNil(dec.Required),
		RequireAll: dec.RequireAll,
		Allowed:    dec.Allowed,
		Outcome:    dec.Outcome,
		Reason:     dec.Reason,
	}
	if err := g.audit.Record(ctx, rec); err != nil {
		g.metrics.ObserveAuditFailure()
		g.logger.Error("gate audit record failed", slog.String("path", req.Path), slog.Any("error", err))
	}
}

// LoginRedirect builds the login URL that returns the user to path after
// signing in.
func LoginRedirect(path, rawQuery string) string {
	target := path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return LoginPath + "?callbackUrl=" + strings.ReplaceAll(url.QueryEscape(target), "%2F", "/")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
