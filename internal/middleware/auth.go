package middleware

import (
	"context"
	"net/http"
	"strings"

	"app/internal/auth"
	"app/internal/logger"
)

// Injected key type to avoid context collisions
type contextKey string

const ClaimsContextKey = contextKey("claims")

// ClaimsFromContext returns the verified claims placed by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims)
	return claims, ok
}

// AuthMiddleware verifies the bearer credential on every request. All
// verification failures collapse into the same generic response; the specific
// kind is only logged, so callers get no oracle for probing the verifier.
func AuthMiddleware(verifier *auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logger.New()
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Error().Msg("Authorization header missing")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Error().Msg("Invalid authorization header")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := verifier.Verify(r.Context(), parts[1])
			if err != nil {
				logger.Error().Err(err).Msg("Credential verification failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
