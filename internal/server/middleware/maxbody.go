package middleware

import (
	"net/http"
)

// DefaultMaxBody applies when MaxBody gets a non-positive size.
const DefaultMaxBody = 1 << 20

// MaxBody caps request bodies. A declared Content-Length over the cap is
// rejected up front; otherwise the body reader fails once the cap is crossed.
func MaxBody(maxSize int64) Middleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBody
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
