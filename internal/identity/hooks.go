package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tenantdesk/tenantdesk/internal/rbac"
)

// SignInEvent describes a completed sign-in.
type SignInEvent struct {
	UserID    string
	Email     string
	Provider  string
	IsNewUser bool
}

// Hook reacts to a sign-in before the user's token is issued.
type Hook func(ctx context.Context, ev SignInEvent) error

// Hooks runs hooks in order.
type Hooks []Hook

// Run executes every hook, stopping at the first error.
func (h Hooks) Run(ctx context.Context, ev SignInEvent) error {
	for _, hook := range h {
		if err := hook(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// RoleAssigner is the write side of the role store used on sign-in.
type RoleAssigner interface {
	CountUserRoles(ctx context.Context, userID string) (int, error)
	AssignRoleByName(ctx context.Context, userID, roleName string) error
}

// DefaultRoleHook gives users signing in through an external provider the
// default role when they hold no role at all. Credential sign-ins are left
// untouched.
func DefaultRoleHook(store RoleAssigner, logger *slog.Logger) Hook {
	return func(ctx context.Context, ev SignInEvent) error {
		if !IsOAuth(ev.Provider) {
			return nil
		}
		count, err := store.CountUserRoles(ctx, ev.UserID)
		if err != nil {
			return fmt.Errorf("identity: count roles for %s: %w", ev.UserID, err)
		}
		if count > 0 {
			return nil
		}
		if err := store.AssignRoleByName(ctx, ev.UserID, rbac.DefaultRole); err != nil {
			return fmt.Errorf("identity: assign default role to %s: %w", ev.UserID, err)
		}
		if logger != nil {
			logger.Info("default role assigned",
				slog.String("user_id", ev.UserID),
				slog.String("role", rbac.DefaultRole),
				slog.String("provider", ev.Provider),
				slog.Bool("new_user", ev.IsNewUser))
		}
		return nil
	}
}
