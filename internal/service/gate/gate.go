// Package gate decides whether a protected view may be entered. It never performs
// navigation or network validation; callers act on the returned Decision.
package gate

import (
	"net/url"
	"strings"
	"sync"
)

const (
	// DefaultLandingPath is used when no safe return path is available.
	DefaultLandingPath = "/dashboard"
	// LoginPath is where unauthenticated callers are sent.
	LoginPath = "/login"
)

// Outcome is the kind of decision.
type Outcome int

const (
	Allow Outcome = iota + 1
	RedirectToLogin
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the gate's verdict for one navigation.
type Decision struct {
	Outcome Outcome
	// ReturnPath is set for RedirectToLogin: where to go after a successful login.
	ReturnPath string
}

// LoginURL is the redirect target carrying the return path.
func (d Decision) LoginURL() string {
	if d.Outcome != RedirectToLogin {
		return ""
	}
	return LoginPath + "?from=" + url.QueryEscape(d.ReturnPath)
}

// Evaluate is the optimistic presence check: any non-empty token is allowed.
func Evaluate(token, requestedPath string) Decision {
	if token != "" {
		return Decision{Outcome: Allow}
	}
	return Decision{Outcome: RedirectToLogin, ReturnPath: SafeReturnPath(requestedPath)}
}

// SafeReturnPath keeps only same-origin absolute paths, falling back to the landing path.
func SafeReturnPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return DefaultLandingPath
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return DefaultLandingPath
	}
	if u.Path == LoginPath || strings.HasPrefix(u.Path, LoginPath+"/") {
		return DefaultLandingPath
	}
	return u.RequestURI()
}

// State of a Guard.
type State int

const (
	Unknown State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// TokenSource reports the current token once the credential store is readable.
// ready=false means the store has not finished loading.
type TokenSource interface {
	Token() string
	Loaded() bool
}

// Guard is the per-navigation state machine. It starts Unknown, moves to exactly one of
// Authenticated or Unauthenticated, and stays there.
type Guard struct {
	mu       sync.Mutex
	path     string
	state    State
	decision Decision
}

// NewGuard creates an Unknown guard for a navigation to path.
func NewGuard(path string) *Guard {
	return &Guard{path: path}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Resolve reads src and settles the guard. While src is still loading it returns
// (Decision{}, false) and the guard stays Unknown. Once settled, later calls return the
// same decision.
func (g *Guard) Resolve(src TokenSource) (Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Unknown {
		return g.decision, true
	}
	if !src.Loaded() {
		return Decision{}, false
	}

	g.decision = Evaluate(src.Token(), g.path)
	if g.decision.Outcome == Allow {
		g.state = Authenticated
	} else {
		g.state = Unauthenticated
	}
	return g.decision, true
}
