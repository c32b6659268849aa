package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dogwood/dashboard-client/internal/service/gate"
	"github.com/dogwood/dashboard-client/pkg/utils"
)

// SessionSource is a gate.TokenSource that can signal when its initial load finishes.
type SessionSource interface {
	gate.TokenSource
	Ready() <-chan struct{}
}

// RequireSession runs every request through a fresh navigation guard. While the session
// is still loading the request waits up to wait, then gets 503 with Retry-After.
// Unauthenticated page requests are redirected to the login page; API requests get 401.
func RequireSession(src SessionSource, wait time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guard := gate.NewGuard(r.URL.RequestURI())

			decision, ok := guard.Resolve(src)
			if !ok {
				timer := time.NewTimer(wait)
				select {
				case <-src.Ready():
				case <-timer.C:
				case <-r.Context().Done():
				}
				timer.Stop()
				decision, ok = guard.Resolve(src)
			}

			if !ok {
				w.Header().Set("Retry-After", "1")
				utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
				return
			}

			if decision.Outcome == gate.Allow {
				next.ServeHTTP(w, r)
				return
			}

			log.Printf("[gate] redirecting unauthenticated request path=%s", r.URL.Path)
			if isAPIRequest(r) {
				utils.RespondJSON(w, http.StatusUnauthorized, map[string]string{
					"error":    "authentication required",
					"redirect": decision.LoginURL(),
				})
				return
			}
			http.Redirect(w, r, decision.LoginURL(), http.StatusFound)
		})
	}
}

func isAPIRequest(r *http.Request) bool {
	return r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/")
}
