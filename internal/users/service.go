package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tenantdesk/tenantdesk/internal/rbac"
	"github.com/tenantdesk/tenantdesk/internal/shared"
)

// Page size bounds for ListUsers.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Filter narrows ListUsers.
type Filter struct {
	Role   string
	Limit  int
	Offset int
}

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, f Filter) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
}

// RoleGraph loads a user's roles with their permissions.
type RoleGraph interface {
	GetUserWithRoles(ctx context.Context, userID string) (*rbac.UserWithRoles, error)
}

// Service handles user directory lookups.
type Service struct {
	repo  RepositoryPort
	roles RoleGraph
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleGraph) *Service {
	return &Service{repo: repo, roles: roles}
}

// ListUsers returns one page of users. Out of range page sizes are clamped.
func (s *Service) ListUsers(ctx context.Context, f Filter) ([]User, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.ListUsers(ctx, f)
}

// GetUser returns a user with the effective permissions of its roles.
func (s *Service) GetUser(ctx context.Context, id string) (Detail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Detail{}, shared.ErrNotFound
	}
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	graph, err := s.roles.GetUserWithRoles(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("users: load roles of %s: %w", id, err)
	}
	roles := graph.Roles()
	user.Roles = rbac.RoleNames(roles)
	return Detail{User: user, Permissions: rbac.UserPermissions(roles)}, nil
}
