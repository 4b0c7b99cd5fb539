// Package middleware provides HTTP middleware for the leadflow API.
package middleware

import (
	"net/http"
	"strings"
)

const (
	allowedMethods = "GET, POST, OPTIONS"
	allowedHeaders = "Content-Type, X-Company-ID"
	preflightAge   = "600"
)

// originMatch reports whether origin is accepted by pattern. Patterns are
// "*", an exact origin, or a scheme with a wildcard subdomain such as
// "https://*.example.com".
func originMatch(pattern, origin string) (ok, explicit bool) {
	switch {
	case pattern == "*":
		return true, false
	case pattern == origin:
		return true, true
	}
	scheme, host, found := strings.Cut(pattern, "://*.")
	if !found {
		return false, false
	}
	prefix := scheme + "://"
	if !strings.HasPrefix(origin, prefix) {
		return false, false
	}
	rest := strings.TrimPrefix(origin, prefix)
	return strings.HasSuffix(rest, "."+host), true
}

// CORS returns middleware that handles CORS headers for the chat widget.
// Credentials are only allowed for origins that were listed explicitly.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			allowed, explicit := false, false
			if origin != "" {
				for _, o := range allowedOrigins {
					ok, exact := originMatch(o, origin)
					if ok {
						allowed = true
						explicit = explicit || exact
					}
				}
			}

			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Set("Access-Control-Max-Age", preflightAge)
				if explicit {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
