package shared

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestCSRFEnsureAndVerify(t *testing.T) {
	m := NewCSRFManager("secret", false)

	rec := httptest.NewRecorder()
	token := m.Ensure(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != token {
		t.Fatalf("expected csrf cookie carrying the token, got %v", cookies)
	}

	// A valid cookie is reused.
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	if again := m.Ensure(rec, req); again != token {
		t.Fatalf("expected token reuse")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected no new cookie")
	}

	post := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	post.AddCookie(cookies[0])
	post.Header.Set(CSRFHeader, token)
	if err := m.Verify(post); err != nil {
		t.Fatalf("verify header: %v", err)
	}

	form := url.Values{CSRFFormField: {token}}
	post = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	post.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	post.AddCookie(cookies[0])
	if err := m.Verify(post); err != nil {
		t.Fatalf("verify form: %v", err)
	}
}

func TestCSRFVerifyRejects(t *testing.T) {
	m := NewCSRFManager("secret", false)
	token := m.Issue()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := m.Verify(req); !errors.Is(err, ErrCSRFTokenMissing) {
		t.Fatalf("expected missing, got %v", err)
	}

	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
	if err := m.Verify(req); !errors.Is(err, ErrCSRFTokenMissing) {
		t.Fatalf("expected missing submitted token, got %v", err)
	}

	req.Header.Set(CSRFHeader, m.Issue())
	if err := m.Verify(req); !errors.Is(err, ErrCSRFTokenMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	forged := NewCSRFManager("other", false).Issue()
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: forged})
	req.Header.Set(CSRFHeader, forged)
	if err := m.Verify(req); !errors.Is(err, ErrCSRFTokenMismatch) {
		t.Fatalf("expected forged token rejected, got %v", err)
	}
}
