package middle

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("API_KEY", "secret-key")
	h := AuthMiddleware()(okHandler())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret-key", http.StatusUnauthorized},
		{"wrong key", "Bearer other-key", http.StatusUnauthorized},
		{"valid key", "Bearer secret-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/payment/pay", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGatewayUserPropagation(t *testing.T) {
	t.Setenv("API_KEY", "secret-key")

	var got string
	h := AuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GatewayUser(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/payment/pay", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	req.Header.Set(GatewayUserHeader, "ops@example.com")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "ops@example.com", got)
}

func TestRateLimiter(t *testing.T) {
	rl := &RateLimiter{visitors: make(map[string]*visitor), rate: 3, window: time.Minute}

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	// Another IP has its own window.
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{"remote addr", "203.0.113.7:51234", "", "", "203.0.113.7"},
		{"xff single", "10.0.0.1:1234", "198.51.100.9", "", "198.51.100.9"},
		{"xff chain takes first", "10.0.0.1:1234", "198.51.100.9, 10.0.0.2", "", "198.51.100.9"},
		{"real ip", "10.0.0.1:1234", "", "198.51.100.10", "198.51.100.10"},
		{"ipv6 loopback", "[::1]:1234", "", "", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

func TestRequestValidation(t *testing.T) {
	h := RequestValidationMiddleware()(okHandler())

	tests := []struct {
		name        string
		path        string
		contentType string
		want        int
	}{
		{"api json", "/api/payment/pay", "application/json", http.StatusOK},
		{"api form rejected", "/api/payment/pay", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"api missing content type", "/api/payment/pay", "", http.StatusBadRequest},
		{"callback form accepted", "/payment/tx-1/callback", "application/x-www-form-urlencoded", http.StatusOK},
		{"callback json accepted", "/payment/tx-1/callback", "application/json", http.StatusOK},
		{"callback xml rejected", "/payment/tx-1/callback", "text/xml", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader("body"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeadersMiddleware()(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	// The hosted 3-D form must stay frameable by the merchant page.
	assert.Empty(t, rec.Header().Get("X-Frame-Options"))
}
