// Package middle carries the HTTP middleware: API-key authentication,
// gateway-user propagation, rate limiting and the security headers.
package middle

import (
	"context"
	"net/http"
	"strings"

	"github.com/metinweb/ors-payment-service/infra/config"
	"github.com/metinweb/ors-payment-service/infra/response"
)

type contextKey string

const gatewayUserKey contextKey = "gatewayUser"

// GatewayUserHeader carries the acting user of the calling gateway, recorded
// for audit purposes.
const GatewayUserHeader = "X-Gateway-User"

// AuthMiddleware validates the API key and propagates the gateway user.
func AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedAPIKey := config.GetEnv("API_KEY", "")
			if expectedAPIKey == "" {
				response.Error(w, http.StatusInternalServerError, "API key not configured", nil)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Error(w, http.StatusUnauthorized, "Authorization header required", nil)
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Error(w, http.StatusUnauthorized, "Invalid authorization format. Use: Bearer <api_key>", nil)
				return
			}
			apiKey := strings.TrimPrefix(authHeader, "Bearer ")
			if apiKey != expectedAPIKey {
				response.Error(w, http.StatusUnauthorized, "Invalid API key", nil)
				return
			}

			if user := r.Header.Get(GatewayUserHeader); user != "" {
				r = r.WithContext(context.WithValue(r.Context(), gatewayUserKey, user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GatewayUser returns the acting gateway user from the request context.
func GatewayUser(ctx context.Context) string {
	user, _ := ctx.Value(gatewayUserKey).(string)
	return user
}
