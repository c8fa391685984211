package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/healthdx/consent-engine/v1/auth"
	"github.com/healthdx/consent-engine/v1/models"
	"github.com/healthdx/consent-engine/v1/utils"
)

// contextKey is a custom type for context keys used with context.WithValue.
// Defining a custom type helps avoid key collisions with context keys defined in other packages.
type contextKey string

const (
	// actorIDKey is the context key for the authenticated actor's account id
	actorIDKey contextKey = "actorID"
)

// JWTAuthMiddleware provides HTTP middleware for JWT authentication
type JWTAuthMiddleware struct {
	verifier *auth.JWTVerifier
}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(verifier *auth.JWTVerifier) *JWTAuthMiddleware {
	return &JWTAuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate is the middleware function that validates JWT tokens
func (m *JWTAuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Authorization header is required")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			utils.RespondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
		if tokenString == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Token is required")
			return
		}

		actorID, err := m.verifier.VerifyTokenAndExtractActor(tokenString)
		if err != nil {
			slog.Warn("Token verification failed", "error", err)
			utils.RespondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), actorIDKey, actorID)
		r = r.WithContext(ctx)

		slog.Debug("Actor authenticated", "actorId", actorID)

		next.ServeHTTP(w, r)
	})
}

// GetActorFromContext extracts the authenticated actor id from the request context
func GetActorFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorIDKey).(string)
	return actorID, ok
}
