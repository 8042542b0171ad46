package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantStatus int
		wantOrigin string
		wantCreds  string
	}{
		{"listed origin", []string{"http://ui.test"}, "http://ui.test", http.MethodGet, http.StatusTeapot, "http://ui.test", "true"},
		{"unlisted origin", []string{"http://ui.test"}, "http://evil.test", http.MethodGet, http.StatusTeapot, "", ""},
		{"wildcard has no credentials", []string{"*"}, "http://any.test", http.MethodGet, http.StatusTeapot, "http://any.test", ""},
		{"preflight", []string{"http://ui.test"}, "http://ui.test", http.MethodOptions, http.StatusNoContent, "http://ui.test", "true"},
		{"no origin", []string{"*"}, "", http.MethodGet, http.StatusTeapot, "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, "/api/state", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}
