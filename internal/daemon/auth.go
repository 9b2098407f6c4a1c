package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware guards operational endpoints with a bearer token. An empty
// configured token disables the check, which only makes sense on a loopback
// bind. The webhook route never goes through this; it is authenticated by
// its signature instead.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
