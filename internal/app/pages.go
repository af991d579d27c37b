package app

import (
	"log/slog"
	"net/http"

	"github.com/tenantdesk/tenantdesk/internal/auth"
	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/shared"
	"github.com/tenantdesk/tenantdesk/internal/view"
)

// pages renders the placeholder HTML surface.
type pages struct {
	templates *view.Engine
	csrf      *shared.CSRFManager
	logger    *slog.Logger
	providers []string
}

type loginPageData struct {
	CallbackURL string
	Providers   []string
	Error       string
}

// loginErrors maps the error codes set by the sign-in handler to messages.
var loginErrors = map[string]string{
	"credentials": "Invalid email or password.",
	"invalid":     "Enter a valid email and a password of at least 8 characters.",
	"csrf":        "Your session expired. Please try again.",
}

func (p *pages) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	td := view.TemplateData{
		Title:       title,
		CSRFToken:   p.csrf.Ensure(w, r),
		CurrentPath: r.URL.Path,
		User:        identity.SnapshotFromContext(r.Context()),
		Data:        data,
	}
	if status != http.StatusOK {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
	}
	if err := p.templates.Render(w, name, td); err != nil {
		p.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

func (p *pages) static(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.render(w, r, http.StatusOK, name, title, nil)
	}
}

func (p *pages) login(w http.ResponseWriter, r *http.Request) {
	data := loginPageData{
		CallbackURL: auth.SafeCallback(r.URL.Query().Get("callbackUrl")),
		Providers:   p.providers,
	}
	if code := r.URL.Query().Get("error"); code != "" {
		data.Error = loginErrors[code]
		if data.Error == "" {
			data.Error = "Sign-in failed."
		}
	}
	p.render(w, r, http.StatusOK, "pages/login.html", "Sign in", data)
}

func (p *pages) tooManyRequests(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, http.StatusTooManyRequests, "pages/too-many-requests.html", "Too many requests", nil)
}
