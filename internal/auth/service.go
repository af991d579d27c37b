package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/shared"
)

// Refresher reloads a token's roles from the authoritative store.
type Refresher interface {
	ForceRefresh(ctx context.Context, tok *identity.Token) (identity.Resolution, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	resolver Refresher
	hooks    identity.Hooks
}

// NewService constructs a new Service. hooks run after every successful
// sign-in, before roles are loaded.
func NewService(repo Repository, resolver Refresher, hooks identity.Hooks) *Service {
	return &Service{repo: repo, resolver: resolver, hooks: hooks}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive || user.PasswordHash == "" {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// SignInCredentials authenticates a password sign-in and loads the user's
// roles synchronously, so the first token already carries them.
func (s *Service) SignInCredentials(ctx context.Context, email, password string) (identity.Resolution, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return identity.Resolution{}, err
	}
	return s.complete(ctx, user, identity.ProviderCredentials, false)
}

// SignInExternal signs in a user verified by an external provider, creating
// the account on first sign-in.
func (s *Service) SignInExternal(ctx context.Context, provider string, ext ExternalIdentity) (identity.Resolution, error) {
	if ext.Email == "" {
		return identity.Resolution{}, fmt.Errorf("auth: %s identity without email", provider)
	}
	isNew := false
	user, err := s.repo.FindByEmail(ctx, ext.Email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		user, err = s.repo.CreateUser(ctx, ext.Email, ext.Name, "")
		if err != nil {
			return identity.Resolution{}, err
		}
		isNew = true
	case err != nil:
		return identity.Resolution{}, err
	}
	if !user.IsActive {
		return identity.Resolution{}, shared.ErrInvalidCredentials
	}
	return s.complete(ctx, user, provider, isNew)
}

// Refresh reloads the roles attached to tok.
func (s *Service) Refresh(ctx context.Context, tok *identity.Token) (identity.Resolution, error) {
	return s.resolver.ForceRefresh(ctx, tok)
}

func (s *Service) complete(ctx context.Context, user *User, provider string, isNew bool) (identity.Resolution, error) {
	ev := identity.SignInEvent{UserID: user.ID, Email: user.Email, Provider: provider, IsNewUser: isNew}
	if err := s.hooks.Run(ctx, ev); err != nil {
		return identity.Resolution{}, fmt.Errorf("auth: sign-in hooks: %w", err)
	}
	res, err := s.resolver.ForceRefresh(ctx, &identity.Token{UserID: user.ID, Email: user.Email, Provider: provider})
	if err != nil {
		return identity.Resolution{}, err
	}
	if !res.Snapshot.Authenticated() || res.Token == nil {
		return identity.Resolution{}, shared.ErrInvalidCredentials
	}
	return res, nil
}
