package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tenantdesk/tenantdesk/internal/platform/httpx"
	"github.com/tenantdesk/tenantdesk/internal/rbac"
	"github.com/tenantdesk/tenantdesk/internal/shared"
)

// Directory is the read surface used by Handler.
type Directory interface {
	ListUsers(ctx context.Context, f Filter) ([]User, error)
	GetUser(ctx context.Context, id string) (Detail, error)
}

var _ Directory = (*Service)(nil)

// Handler exposes the user directory API.
type Handler struct {
	logger  *slog.Logger
	service Directory
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Directory, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(shared.PermUsersView, shared.PermUsersManage))
	r.Get("/", h.listUsers)
	r.Get("/{id}", h.getUser)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{Role: q.Get("role")}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid offset")
		return
	}
	users, err := h.service.ListUsers(r.Context(), f)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("get user failed", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
