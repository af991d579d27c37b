package shared

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// CSRFCookieName holds the double-submit token.
	CSRFCookieName = "tenantdesk_csrf"
	// CSRFHeader carries the token on API calls.
	CSRFHeader = "X-CSRF-Token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
)

// CSRFManager issues and verifies signed double-submit CSRF tokens.
type CSRFManager struct {
	secret []byte
	secure bool
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string, secure bool) *CSRFManager {
	return &CSRFManager{secret: []byte(secret), secure: secure}
}

// Issue mints a new signed token.
func (m *CSRFManager) Issue() string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	return nonce + "." + m.sign(nonce)
}

// Ensure returns the token from the request cookie, setting a fresh one on w
// when it is missing or was not signed by this manager.
func (m *CSRFManager) Ensure(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(CSRFCookieName); err == nil && m.valid(c.Value) {
		return c.Value
	}
	token := m.Issue()
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// Verify checks that the submitted token matches the cookie and is signed.
// The token is read from the X-CSRF-Token header, then the csrf_token form
// field.
func (m *CSRFManager) Verify(r *http.Request) error {
	c, err := r.Cookie(CSRFCookieName)
	if err != nil || c.Value == "" {
		return ErrCSRFTokenMissing
	}
	submitted := r.Header.Get(CSRFHeader)
	if submitted == "" {
		submitted = r.PostFormValue(CSRFFormField)
	}
	if submitted == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(c.Value), []byte(submitted)) || !m.valid(submitted) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func (m *CSRFManager) valid(token string) bool {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(m.sign(nonce)))
}

func (m *CSRFManager) sign(nonce string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
