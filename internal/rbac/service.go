package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenantdesk/tenantdesk/internal/platform/db"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("rbac: duplicate")
	// ErrProtectedRole is returned when deleting a built-in role.
	ErrProtectedRole = errors.New("rbac: built-in role cannot be deleted")
)

// Service orchestrates RBAC persistence.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// ListRoles returns all roles with their permissions ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `
SELECT r.id, r.name, r.description, r.created_at, r.updated_at,
       p.id, p.name, p.action, p.resource, p.description
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
ORDER BY r.name, p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	index := make(map[int64]int)
	for rows.Next() {
		var role Role
		var perm nullablePermission
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt,
			&perm.ID, &perm.Name, &perm.Action, &perm.Resource, &perm.Description); err != nil {
			return nil, err
		}
		pos, ok := index[role.ID]
		if !ok {
			role.Permissions = []Permission{}
			roles = append(roles, role)
			pos = len(roles) - 1
			index[role.ID] = pos
		}
		if p, ok := perm.value(); ok {
			roles[pos].Permissions = append(roles[pos].Permissions, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole fetches a role by ID without its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole validates and inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	if err := ValidateRole(name, description); err != nil {
		return Role{}, err
	}
	role := Role{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description), Permissions: []Permission{}}
	err := s.pool.QueryRow(ctx, `
INSERT INTO roles (name, description) VALUES ($1, $2)
RETURNING id, created_at, updated_at`, role.Name, role.Description).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	return role, nil
}

// UpdateRole validates and updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	if err := ValidateRole(name, description); err != nil {
		return Role{}, err
	}
	role := Role{ID: id, Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	err := s.pool.QueryRow(ctx, `
UPDATE roles SET name = $2, description = $3, updated_at = NOW()
WHERE id = $1
RETURNING created_at, updated_at`, id, role.Name, role.Description).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, mapWriteError(err)
	}
	return role, nil
}

// DeleteRole removes a custom role. Built-in roles are refused.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if IsBuiltInRole(role.Name) {
		return ErrProtectedRole
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, action, resource, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Action, &p.Resource, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// EnsurePermission validates and upserts a permission, refreshing its description.
func (s *Service) EnsurePermission(ctx context.Context, action, resource, description string) (Permission, error) {
	p, err := NewPermission(strings.TrimSpace(action), strings.TrimSpace(resource), strings.TrimSpace(description))
	if err != nil {
		return Permission{}, err
	}
	err = s.pool.QueryRow(ctx, `
INSERT INTO permissions (name, action, resource, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id`, p.Name, p.Action, p.Resource, p.Description).Scan(&p.ID)
	if err != nil {
		return Permission{}, mapWriteError(err)
	}
	return p, nil
}

// SetRolePermissions replaces the permission set of a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
		if err != nil {
			return err
		}
		existing := make(map[int64]struct{})
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		keep := make(map[int64]struct{}, len(permissionIDs))
		for _, id := range permissionIDs {
			keep[id] = struct{}{}
			if _, ok := existing[id]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, id); err != nil {
				return mapWriteError(err)
			}
		}
		for id := range existing {
			if _, ok := keep[id]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// AssignRole assigns a role to the given user. Re-assigning is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID string, roleID int64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1::uuid, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return mapWriteError(err)
}

// AssignRoleByName assigns the named role to the user.
func (s *Service) AssignRoleByName(ctx context.Context, userID, roleName string) error {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO user_roles (user_id, role_id)
SELECT $1::uuid, id FROM roles WHERE name = $2
ON CONFLICT DO NOTHING`, userID, roleName)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, roleName).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("rbac: role %q: %w", roleName, ErrNotFound)
		}
	}
	return nil
}

// RemoveRole removes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID string, roleID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1::uuid AND role_id = $2`, userID, roleID)
	return err
}

// CountUserRoles returns how many roles are assigned to the user.
func (s *Service) CountUserRoles(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE user_id = $1::uuid`, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// userGraphSQL returns no rows for unknown or deactivated users.
const userGraphSQL = `
SELECT u.id::text, r.id, r.name, r.description,
       p.id, p.name, p.action, p.resource, p.description
FROM users u
LEFT JOIN user_roles ur ON ur.user_id = u.id
LEFT JOIN roles r ON r.id = ur.role_id
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
WHERE u.id = $1::uuid AND u.is_active
ORDER BY r.name, p.name`

// GetUserWithRoles loads the role/permission graph of a user. It returns
// nil without error when the user does not exist or is deactivated, so a
// refresh signs a deactivated user out.
func (s *Service) GetUserWithRoles(ctx context.Context, userID string) (*UserWithRoles, error) {
	rows, err := s.pool.Query(ctx, userGraphSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var user *UserWithRoles
	index := make(map[int64]int)
	for rows.Next() {
		var id string
		var roleID pgtype.Int8
		var roleName, roleDesc pgtype.Text
		var perm nullablePermission
		if err := rows.Scan(&id, &roleID, &roleName, &roleDesc,
			&perm.ID, &perm.Name, &perm.Action, &perm.Resource, &perm.Description); err != nil {
			return nil, err
		}
		if user == nil {
			user = &UserWithRoles{ID: id, UserRoles: []UserRole{}}
		}
		if !roleID.Valid {
			continue
		}
		pos, ok := index[roleID.Int64]
		if !ok {
			user.UserRoles = append(user.UserRoles, UserRole{Role: RoleRecord{
				ID:              roleID.Int64,
				Name:            roleName.String,
				Description:     roleDesc.String,
				RolePermissions: []RolePermission{},
			}})
			pos = len(user.UserRoles) - 1
			index[roleID.Int64] = pos
		}
		if p, ok := perm.value(); ok {
			user.UserRoles[pos].Role.RolePermissions = append(user.UserRoles[pos].Role.RolePermissions, RolePermission{Permission: p})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return user, nil
}

type nullablePermission struct {
	ID          pgtype.Int8
	Name        pgtype.Text
	Action      pgtype.Text
	Resource    pgtype.Text
	Description pgtype.Text
}

func (n nullablePermission) value() (Permission, bool) {
	if !n.ID.Valid {
		return Permission{}, false
	}
	return Permission{
		ID:          n.ID.Int64,
		Name:        n.Name.String,
		Action:      n.Action.String,
		Resource:    n.Resource.String,
		Description: n.Description.String,
	}, true
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicate
		case "23503", "22P02":
			return ErrNotFound
		}
	}
	return err
}
