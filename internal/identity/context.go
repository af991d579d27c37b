package identity

import (
	"context"
	"net/http"

	"github.com/tenantdesk/tenantdesk/internal/rbac"
)

type snapshotContextKey struct{}

type tokenContextKey struct{}

// WithSnapshot stores the resolved snapshot in context.
func WithSnapshot(ctx context.Context, s Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, s)
}

// SnapshotFromContext returns the stored snapshot, or the unauthenticated one.
func SnapshotFromContext(ctx context.Context) Snapshot {
	s, ok := ctx.Value(snapshotContextKey{}).(Snapshot)
	if !ok {
		return Unauthenticated()
	}
	return s
}

// WithToken stores the decoded token in context.
func WithToken(ctx context.Context, tok *Token) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, tok)
}

// TokenFromContext extracts the token from context.
func TokenFromContext(ctx context.Context) *Token {
	tok, _ := ctx.Value(tokenContextKey{}).(*Token)
	return tok
}

// RolesFromRequest exposes the request's snapshot roles; it satisfies
// rbac.RolesFunc.
func RolesFromRequest(r *http.Request) ([]rbac.Role, bool) {
	s := SnapshotFromContext(r.Context())
	return s.Roles, s.Authenticated()
}
