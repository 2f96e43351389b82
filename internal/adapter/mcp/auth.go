package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader is an alternative to the Authorization header for clients
// that cannot set bearer tokens.
const APIKeyHeader = "X-Cowork-Key"

// AuthMiddleware requires apiKey on every request, as "Authorization:
// Bearer <key>", a bare Authorization value, or the X-Cowork-Key header.
// An empty apiKey disables the check.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(APIKeyHeader)
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="cowork-mcp"`)
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
