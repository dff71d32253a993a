package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/dailydrop/internal/config"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"no trusted proxies", nil, "10.0.0.1:5000", map[string]string{"X-Real-IP": "1.2.3.4"}, "10.0.0.1"},
		{"untrusted peer", []string{"192.168.0.0/16"}, "10.0.0.1:5000", map[string]string{"X-Real-IP": "1.2.3.4"}, "10.0.0.1"},
		{"trusted cidr real ip", []string{"10.0.0.0/8"}, "10.0.0.1:5000", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
		{"trusted bare address forwarded", []string{"10.0.0.1"}, "10.0.0.1:5000", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, "5.6.7.8"},
		{"trusted without header", []string{"10.0.0.0/8"}, "10.0.0.1:5000", nil, "10.0.0.1"},
		{"garbage header", []string{"10.0.0.0/8"}, "10.0.0.1:5000", map[string]string{"X-Real-IP": "nope"}, "10.0.0.1"},
		{"invalid trusted entry skipped", []string{"bogus", "10.0.0.0/8"}, "10.0.0.1:5000", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name string
		cfg  config.SecurityConfig
		key  string
		want int
	}{
		{"disabled", config.SecurityConfig{}, "", http.StatusOK},
		{"missing key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k"}}, "", http.StatusUnauthorized},
		{"wrong key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k"}}, "x", http.StatusForbidden},
		{"valid key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a", "k"}}, "k", http.StatusOK},
		{"no keys configured", config.SecurityConfig{RequireAPIKey: true}, "k", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/tables", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(&tt.cfg)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
