package gate

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/tenantdesk/tenantdesk/internal/identity"
	"github.com/tenantdesk/tenantdesk/internal/platform/httpx"
	"github.com/tenantdesk/tenantdesk/internal/ratelimit"
)

// Middleware runs the gate in front of next. On success the resolved
// snapshot and token are stored in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := g.codec.FromRequest(r)
		if err != nil {
			if !errors.Is(err, identity.ErrUnauthenticated) {
				g.logger.Debug("discarding identity token", slog.String("path", r.URL.Path), slog.Any("error", err))
				http.SetCookie(w, g.codec.ClearCookie())
			}
			tok = nil
		}

		dec := g.Decide(r.Context(), Request{
			Path:      r.URL.Path,
			RawQuery:  r.URL.RawQuery,
			Method:    r.Method,
			ClientKey: clientKey(r),
		}, tok)

		writeRateLimitHeaders(w, dec.RateLimit)

		if res := dec.Identity; res.Refreshed && res.Token != nil {
			if err := g.codec.IssueCookie(w, *res.Token); err != nil {
				g.logger.Error("reissue identity token", slog.String("user_id", res.Token.UserID), slog.Any("error", err))
			}
		}
		if tok != nil && (dec.Outcome == OutcomeRedirectLogin || dec.Outcome == OutcomeUnauthenticated) {
			// The token names a user that no longer exists.
			http.SetCookie(w, g.codec.ClearCookie())
		}

		if dec.Proceeds() {
			ctx := r.Context()
			if snap := dec.Identity.Snapshot; snap.Authenticated() {
				ctx = identity.WithSnapshot(ctx, snap)
				ctx = identity.WithToken(ctx, dec.Identity.Token)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		g.respond(w, r, dec)
	})
}

func (g *Gate) respond(w http.ResponseWriter, r *http.Request, dec Decision) {
	if dec.Outcome == OutcomeRateLimited && dec.RateLimit != nil {
		retry := int(dec.RateLimit.RetryAfter(g.now()).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	if dec.Redirect != "" {
		http.Redirect(w, r, dec.Redirect, dec.Status)
		return
	}
	httpx.Error(w, dec.Status, dec.Message)
}

func writeRateLimitHeaders(w http.ResponseWriter, res *ratelimit.Result) {
	if res == nil || res.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// clientKey identifies the caller for rate limiting. chi's RealIP middleware
// has already folded proxy headers into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
