package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tenantdesk/tenantdesk/internal/rbac"
)

// RoleSource is the authoritative store for a user's role graph. It returns
// (nil, nil) when the user does not exist.
type RoleSource interface {
	GetUserWithRoles(ctx context.Context, userID string) (*rbac.UserWithRoles, error)
}

// Resolution is the outcome of resolving a token. When Refreshed is true,
// Token carries a newly attached role claim and should be re-issued.
type Resolution struct {
	Snapshot  Snapshot
	Token     *Token
	Refreshed bool
}

// Resolver builds snapshots from tokens. The role claim embedded in a token
// is trusted until the token is re-issued: role changes reach a signed-in
// user only through ForceRefresh or a new sign-in.
type Resolver struct {
	source RoleSource
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(source RoleSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{source: source, logger: logger}
}

// Resolve returns the snapshot for tok. A token with a role claim is used as
// is; otherwise the store is queried and the roles are attached. A nil token
// resolves to the unauthenticated snapshot without error.
func (r *Resolver) Resolve(ctx context.Context, tok *Token) (Resolution, error) {
	if tok == nil || tok.UserID == "" {
		return Resolution{Snapshot: Unauthenticated()}, nil
	}
	if tok.Roles != nil {
		return Resolution{Snapshot: NewSnapshot(tok.UserID, tok.Roles), Token: tok}, nil
	}
	return r.load(ctx, tok)
}

// ForceRefresh ignores any embedded claim and reloads roles from the store.
func (r *Resolver) ForceRefresh(ctx context.Context, tok *Token) (Resolution, error) {
	if tok == nil || tok.UserID == "" {
		return Resolution{Snapshot: Unauthenticated()}, nil
	}
	return r.load(ctx, tok)
}

func (r *Resolver) load(ctx context.Context, tok *Token) (Resolution, error) {
	user, err := r.source.GetUserWithRoles(ctx, tok.UserID)
	if err != nil {
		return Resolution{Snapshot: Unauthenticated()}, fmt.Errorf("identity: lookup user %s: %w", tok.UserID, err)
	}
	if user == nil {
		r.logger.Warn("identity token for unknown user", slog.String("user_id", tok.UserID))
		return Resolution{Snapshot: Unauthenticated()}, nil
	}
	roles := user.Roles()
	refreshed := *tok
	refreshed.Roles = roles
	return Resolution{
		Snapshot:  NewSnapshot(tok.UserID, roles),
		Token:     &refreshed,
		Refreshed: true,
	}, nil
}
