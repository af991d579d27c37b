package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tenantdesk/tenantdesk/internal/auth"
	"github.com/tenantdesk/tenantdesk/internal/gate"
	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/observability"
	"github.com/tenantdesk/tenantdesk/internal/platform/httpx"
	"github.com/tenantdesk/tenantdesk/internal/rbac"
	"github.com/tenantdesk/tenantdesk/internal/shared"
	"github.com/tenantdesk/tenantdesk/internal/users"
	"github.com/tenantdesk/tenantdesk/internal/view"
	"github.com/tenantdesk/tenantdesk/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Templates    *view.Engine
	CSRFManager  *shared.CSRFManager
	Gate         *gate.Gate
	AuthHandler  *auth.Handler
	RBACHandler  *rbac.Handler
	UsersHandler *users.Handler
	Providers    []string
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with TenantDesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	// Scrapes and static assets bypass the gate.
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	p := &pages{templates: params.Templates, csrf: params.CSRFManager, logger: params.Logger, providers: params.Providers}
	g := params.Gate

	r.Group(func(r chi.Router) {
		r.Use(g.Middleware)

		r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Route("/api/auth", params.AuthHandler.MountRoutes)
		if params.RBACHandler != nil {
			r.Route("/api/roles", params.RBACHandler.MountRoles)
			r.Route("/api/permissions", params.RBACHandler.MountPermissions)
			r.Route("/api/admin/assignments", params.RBACHandler.MountAssignments)
		}
		if params.UsersHandler != nil {
			r.Route("/api/users", params.UsersHandler.MountRoutes)
		}
		r.With(g.RequirePermission(shared.PermProfileView)).Get("/api/profile", profile)

		r.Get("/", p.static("pages/home.html", "Home"))
		r.Get("/about", p.static("pages/section.html", "About"))
		r.Get("/contact", p.static("pages/section.html", "Contact"))
		r.Get("/login", p.login)
		r.Get("/signup", p.static("pages/section.html", "Sign up"))
		r.Get(gate.UnauthorizedPath, p.static("pages/unauthorized.html", "Access denied"))
		r.Get(gate.TooManyRequestsPath, p.tooManyRequests)

		r.Method(http.MethodGet, gate.DashboardPath, g.Page(p.static("pages/dashboard.html", "Dashboard")))
		r.Method(http.MethodGet, "/admin/*", g.Page(p.static("pages/section.html", "Administration")))
		r.Method(http.MethodGet, "/manager/*", g.Page(p.static("pages/section.html", "Management")))
		r.Method(http.MethodGet, "/customer/*", g.Page(p.static("pages/section.html", "My account")))
	})

	return r
}

func profile(w http.ResponseWriter, r *http.Request) {
	snap := identity.SnapshotFromContext(r.Context())
	out := map[string]any{
		"userId":      snap.UserID,
		"roles":       snap.RoleNames(),
		"permissions": snap.Permissions,
	}
	if tok := identity.TokenFromContext(r.Context()); tok != nil {
		out["email"] = tok.Email
	}
	httpx.JSON(w, http.StatusOK, out)
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
