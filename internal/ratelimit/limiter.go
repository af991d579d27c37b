// Package ratelimit supplies the allow/deny signal the authorization gate
// consumes before classifying a request.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tenantdesk/tenantdesk/internal/routing"
)

// Class groups routes that share a budget.
type Class int

const (
	ClassNone Class = iota
	ClassAuth
	ClassAPI
)

func (c Class) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassAPI:
		return "api"
	}
	return "none"
}

// Policy allows Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decode parses "<limit>/<window>", for example "5/15m". It lets envconfig
// load a Policy from a single variable.
func (p *Policy) Decode(value string) error {
	limit, window, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return fmt.Errorf("ratelimit: policy %q: want <limit>/<window>", value)
	}
	n, err := strconv.Atoi(limit)
	if err != nil || n <= 0 {
		return fmt.Errorf("ratelimit: policy %q: bad limit", value)
	}
	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		return fmt.Errorf("ratelimit: policy %q: bad window", value)
	}
	p.Limit, p.Window = n, d
	return nil
}

func (p Policy) String() string {
	return strconv.Itoa(p.Limit) + "/" + p.Window.String()
}

// Policies maps each limited class to its budget. Classes without an entry
// are never limited.
type Policies map[Class]Policy

// DefaultPolicies is the stricter auth budget and the looser API budget.
func DefaultPolicies() Policies {
	return Policies{
		ClassAuth: {Limit: 5, Window: 15 * time.Minute},
		ClassAPI:  {Limit: 100, Window: time.Minute},
	}
}

// Result reports the state of the caller's window after counting a request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Limiter counts one request for key in class and reports whether it fits
// the budget.
type Limiter interface {
	Allow(ctx context.Context, class Class, key string) (Result, error)
}

// ClassFor picks the budget a request is charged against. Sign-in attempts
// use the auth budget; plain page views of the sign-in forms are free.
func ClassFor(reg *routing.Registry, path, method string) Class {
	switch {
	case strings.HasPrefix(path, "/api/auth/"):
		if method == http.MethodGet || method == http.MethodHead {
			return ClassAPI
		}
		return ClassAuth
	case reg.IsAuthRoute(path):
		if method == http.MethodPost {
			return ClassAuth
		}
		return ClassNone
	case reg.IsAPI(path):
		return ClassAPI
	}
	return ClassNone
}

func unlimited() Result {
	return Result{Allowed: true}
}

func result(p Policy, count int, resetAt time.Time) Result {
	remaining := p.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count <= p.Limit, Limit: p.Limit, Remaining: remaining, ResetAt: resetAt}
}
