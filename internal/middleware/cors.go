// Package middleware provides HTTP middleware for the local API.
package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// CORS returns middleware that lets the listed browser origins call the API
// and open the event stream. "*" allows any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(allowedOrigins, origin)

			if origin != "" && (explicit || wildcard) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", strings.Join([]string{
					http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
				}, ", "))
				h.Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
				// Credentials only for explicitly listed origins.
				if explicit {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
