package service

import (
	"net/http"

	"github.com/layer-3/passport/core"
)

// Decision is what a guarded surface should do for a session status
type Decision int

const (
	// Wait renders nothing and blocks navigation until the status settles
	Wait Decision = iota
	// Redirect sends the user to the login path
	Redirect
	// Allow renders the protected content
	Allow
)

func (d Decision) String() string {
	switch d {
	case Wait:
		return "wait"
	case Redirect:
		return "redirect"
	case Allow:
		return "allow"
	}
	return "unknown"
}

// DefaultLoginPath is where unauthenticated users are sent
const DefaultLoginPath = "/"

// SessionSource is the part of the session manager the guard consumes
type SessionSource interface {
	Session() core.Session
	Watch(fn func(core.Session)) func()
}

// RouteGuard maps session status to navigation decisions. It keeps no
// session state; every decision is derived from the snapshot it is given.
type RouteGuard struct {
	LoginPath string
}

// NewRouteGuard creates a guard redirecting to loginPath, or to
// DefaultLoginPath when empty
func NewRouteGuard(loginPath string) *RouteGuard {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	return &RouteGuard{LoginPath: loginPath}
}

// Evaluate returns the decision for status
func (g *RouteGuard) Evaluate(status core.Status) Decision {
	switch status {
	case core.StatusAuthenticated:
		return Allow
	case core.StatusHydrating, core.StatusAuthenticating:
		return Wait
	default:
		return Redirect
	}
}

// Attach delivers a decision for the current session and for every later
// transition, in order, until the returned func is called
func (g *RouteGuard) Attach(source SessionSource, fn func(Decision)) func() {
	return source.Watch(func(s core.Session) {
		fn(g.Evaluate(s.Status))
	})
}

// Middleware guards next. Requests arriving while the session is settling
// get 503 with Retry-After; unauthenticated ones are redirected.
func (g *RouteGuard) Middleware(source SessionSource, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch g.Evaluate(source.Session().Status) {
		case Allow:
			next.ServeHTTP(w, r)
		case Wait:
			w.Header().Set("Retry-After", "1")
			http.Error(w, "session is loading", http.StatusServiceUnavailable)
		default:
			http.Redirect(w, r, g.LoginPath, http.StatusSeeOther)
		}
	})
}
