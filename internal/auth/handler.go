package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/platform/httpx"
	"github.com/tenantdesk/tenantdesk/internal/shared"
)

const (
	stateCookieName = "tenantdesk_oauth_state"
	stateTTL        = 10 * time.Minute
	defaultLanding  = "/dashboard"
)

// Error codes passed back to the sign-in page.
const (
	loginErrorCSRF        = "csrf"
	loginErrorInvalid     = "invalid"
	loginErrorCredentials = "credentials"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	codec       *identity.TokenCodec
	csrfManager *shared.CSRFManager
	providers   map[string]Provider
	secure      bool
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, codec *identity.TokenCodec, csrf *shared.CSRFManager, secure bool, providers ...Provider) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Handler{
		logger:      logger,
		service:     service,
		codec:       codec,
		csrfManager: csrf,
		providers:   byName,
		secure:      secure,
		validator:   validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrf)
	r.Post("/login", h.handleLogin)
	r.Get("/session", h.session)
	r.Post("/session", h.refreshSession)
	r.Post("/signout", h.signOut)
	r.Get("/providers", h.listProviders)
	r.Get("/providers/{name}", h.startProvider)
	r.Get("/callback/{name}", h.callback)
}

type loginForm struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	CallbackURL string `json:"callbackUrl"`
}

type sessionResponse struct {
	Authenticated bool     `json:"authenticated"`
	UserID        string   `json:"userId,omitempty"`
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"roles"`
	Permissions   []string `json:"permissions"`
}

func (h *Handler) csrf(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": h.csrfManager.Ensure(w, r)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	page := !isJSON(r)
	if page {
		if err := r.ParseForm(); err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid form")
			return
		}
		form = loginForm{
			Email:       r.PostFormValue("email"),
			Password:    r.PostFormValue("password"),
			CallbackURL: r.PostFormValue("callbackUrl"),
		}
	} else if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.csrfManager.Verify(r); err != nil {
		if page {
			h.loginFailed(w, r, loginErrorCSRF, form.CallbackURL)
			return
		}
		httpx.Error(w, http.StatusForbidden, err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		if page {
			h.loginFailed(w, r, loginErrorInvalid, form.CallbackURL)
			return
		}
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
			}
		}
		httpx.JSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
		return
	}

	res, err := h.service.SignInCredentials(r.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Warn("security event: failed sign-in", slog.String("email", form.Email))
			if page {
				h.loginFailed(w, r, loginErrorCredentials, form.CallbackURL)
				return
			}
			httpx.Error(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.logger.Error("sign in", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.codec.IssueCookie(w, *res.Token); err != nil {
		h.logger.Error("issue identity token", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	target := SafeCallback(form.CallbackURL)
	if page {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"redirect": target})
}

// loginFailed sends a browser back to the sign-in page, keeping its callback.
func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, code, callbackURL string) {
	q := url.Values{}
	q.Set("error", code)
	q.Set("callbackUrl", SafeCallback(callbackURL))
	http.Redirect(w, r, "/login?"+q.Encode(), http.StatusSeeOther)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, toSessionResponse(identity.SnapshotFromContext(r.Context()), identity.TokenFromContext(r.Context())))
}

// refreshSession reloads roles from the store and reissues the token. It is
// the explicit update trigger for role changes made after sign-in.
func (h *Handler) refreshSession(w http.ResponseWriter, r *http.Request) {
	if err := h.csrfManager.Verify(r); err != nil {
		httpx.Error(w, http.StatusForbidden, err.Error())
		return
	}
	tok := identity.TokenFromContext(r.Context())
	if tok == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	res, err := h.service.Refresh(r.Context(), tok)
	if err != nil {
		h.logger.Error("refresh session", slog.String("user_id", tok.UserID), slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !res.Snapshot.Authenticated() || res.Token == nil {
		http.SetCookie(w, h.codec.ClearCookie())
		httpx.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := h.codec.IssueCookie(w, *res.Token); err != nil {
		h.logger.Error("issue identity token", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(res.Snapshot, res.Token))
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.csrfManager.Verify(r); err != nil {
		httpx.Error(w, http.StatusForbidden, err.Error())
		return
	}
	http.SetCookie(w, h.codec.ClearCookie())
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.providers)+1)
	names = append(names, identity.ProviderCredentials)
	for name := range h.providers {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	httpx.JSON(w, http.StatusOK, map[string][]string{"providers": names})
}

func (h *Handler) startProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := h.providers[chi.URLParam(r, "name")]
	if !ok {
		httpx.Error(w, http.StatusNotFound, "unknown provider")
		return
	}
	state := strings.ReplaceAll(uuid.NewString(), "-", "")
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state + "|" + SafeCallback(r.URL.Query().Get("callbackUrl")),
		Path:     "/api/auth",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusSeeOther)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := h.providers[name]
	if !ok {
		httpx.Error(w, http.StatusNotFound, "unknown provider")
		return
	}
	callbackURL, err := h.verifyState(r)
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/api/auth", MaxAge: -1, HttpOnly: true, Secure: h.secure})
	if err != nil {
		h.logger.Warn("security event: oauth state rejected", slog.String("provider", name))
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := r.URL.Query().Get("error"); msg != "" {
		h.logger.Warn("oauth provider returned error", slog.String("provider", name), slog.String("error", msg))
		http.Redirect(w, r, "/login?error="+url.QueryEscape(msg), http.StatusSeeOther)
		return
	}

	ext, err := p.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Warn("oauth exchange", slog.String("provider", name), slog.Any("error", err))
		httpx.Error(w, http.StatusUnauthorized, "sign-in failed")
		return
	}
	res, err := h.service.SignInExternal(r.Context(), identity.ProviderOIDC, ext)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Error(w, http.StatusUnauthorized, "sign-in failed")
			return
		}
		h.logger.Error("external sign in", slog.String("provider", name), slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.codec.IssueCookie(w, *res.Token); err != nil {
		h.logger.Error("issue identity token", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.Redirect(w, r, callbackURL, http.StatusSeeOther)
}

func (h *Handler) verifyState(r *http.Request) (string, error) {
	c, err := r.Cookie(stateCookieName)
	if err != nil || c.Value == "" {
		return "", shared.ErrOAuthState
	}
	state, callbackURL, _ := strings.Cut(c.Value, "|")
	got := r.URL.Query().Get("state")
	if state == "" || got != state {
		return "", shared.ErrOAuthState
	}
	return SafeCallback(callbackURL), nil
}

// SafeCallback returns target when it is a same-origin path, otherwise the
// dashboard.
func SafeCallback(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return defaultLanding
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return defaultLanding
	}
	return target
}

func toSessionResponse(snap identity.Snapshot, tok *identity.Token) sessionResponse {
	out := sessionResponse{
		Authenticated: snap.Authenticated(),
		UserID:        snap.UserID,
		Roles:         snap.RoleNames(),
		Permissions:   snap.Permissions,
	}
	if tok != nil {
		out.Email = tok.Email
	}
	return out
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
