package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// DebugAuthConfig protects the profiling endpoints.
type DebugAuthConfig struct {
	// Token enables Bearer auth.
	Token string
	// Fallback is used when Token is empty.
	Fallback *AuthConfig
}

// DebugAuth requires the Bearer token when one is configured, otherwise the
// main Basic auth credentials. With neither configured every request is
// forbidden.
func DebugAuth(config *DebugAuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case config.Token != "":
				if bearerToken(r, config.Token) {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusForbidden, "debug token required")

			case config.Fallback != nil && config.Fallback.Enabled():
				if config.Fallback.check(r) {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="petmood-debug"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")

			default:
				writeError(w, http.StatusForbidden, "debug authentication not configured")
			}
		})
	}
}

func bearerToken(r *http.Request, expected string) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
