package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/tenantdesk/tenantdesk/internal/rbac"
)

// Sign-in providers recorded on tokens.
const (
	ProviderCredentials = "credentials"
	ProviderOIDC        = "oidc"
)

// ErrInvalidToken is returned for tokens that fail signature or expiry checks.
var ErrInvalidToken = errors.New("identity: invalid token")

// Token is the decoded identity token. Roles is nil when the token carries no
// role claim yet; an empty non-nil slice means the user has no roles.
type Token struct {
	ID        uuid.UUID
	UserID    string
	Email     string
	Provider  string
	Roles     []rbac.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsOAuth reports whether the token was issued after an external provider sign-in.
func IsOAuth(provider string) bool {
	return provider != "" && provider != ProviderCredentials
}

type claims struct {
	Email    string       `json:"email,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Roles    *[]rbac.Role `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies identity tokens and moves them in and out of
// HTTP requests.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	cookie string
	secure bool
	now    func() time.Time
}

// NewTokenCodec builds a codec. Every issued token lives for ttl from the
// moment it is issued.
func NewTokenCodec(secret string, ttl time.Duration, cookieName string, secure bool) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), ttl: ttl, cookie: cookieName, secure: secure, now: time.Now}
}

// CookieName returns the name of the token cookie.
func (c *TokenCodec) CookieName() string {
	return c.cookie
}

// Issue signs tok, stamping a fresh expiry window. A zero ID is replaced by a
// random one.
func (c *TokenCodec) Issue(tok Token) (string, error) {
	if tok.UserID == "" {
		return "", fmt.Errorf("identity: issue token: missing user id")
	}
	if tok.ID == uuid.Nil {
		tok.ID = uuid.New()
	}
	now := c.now()
	cl := claims{
		Email:    tok.Email,
		Provider: tok.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tok.ID.String(),
			Subject:   tok.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	if tok.Roles != nil {
		roles := tok.Roles
		cl.Roles = &roles
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies raw and decodes it into a Token.
func (c *TokenCodec) Parse(raw string) (*Token, error) {
	cl := &claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(raw, cl, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || cl.Subject == "" {
		return nil, ErrInvalidToken
	}
	id, err := uuid.Parse(cl.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad jti", ErrInvalidToken)
	}
	tok := &Token{
		ID:       id,
		UserID:   cl.Subject,
		Email:    cl.Email,
		Provider: cl.Provider,
	}
	if cl.Roles != nil {
		tok.Roles = *cl.Roles
		if tok.Roles == nil {
			tok.Roles = []rbac.Role{}
		}
	}
	if cl.IssuedAt != nil {
		tok.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		tok.ExpiresAt = cl.ExpiresAt.Time
	}
	return tok, nil
}

// FromRequest reads the token from the cookie, falling back to a bearer
// Authorization header. ErrUnauthenticated means neither is present.
func (c *TokenCodec) FromRequest(r *http.Request) (*Token, error) {
	raw := ""
	if cookie, err := r.Cookie(c.cookie); err == nil {
		raw = cookie.Value
	}
	if raw == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if raw == "" {
		return nil, ErrUnauthenticated
	}
	return c.Parse(raw)
}

// Cookie wraps a signed token in the session cookie.
func (c *TokenCodec) Cookie(signed string) *http.Cookie {
	return &http.Cookie{
		Name:     c.cookie,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the session cookie.
func (c *TokenCodec) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// IssueCookie signs tok and sets it on w.
func (c *TokenCodec) IssueCookie(w http.ResponseWriter, tok Token) error {
	signed, err := c.Issue(tok)
	if err != nil {
		return err
	}
	http.SetCookie(w, c.Cookie(signed))
	return nil
}
