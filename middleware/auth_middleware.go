package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/devportal-backend/internal/observability"
	"github.com/upb/devportal-backend/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating portal tokens
type TokenValidator interface {
	// ValidateToken validates a token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// authTokenCookieName is an alternative cookie for API clients.
// sessionCookieName is set by the auth handler after the sign-in callback.
const authTokenCookieName = "auth_token"
const sessionCookieName = "session"

// RequireAuth is a middleware that requires a valid token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.WithRequest(ctx, m.logger)

		token := extractToken(r)
		if token == "" {
			logger.Warn("missing token")
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			logger.Warn("token validation failed", zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		logger.Debug("authentication successful", zap.String("sub", claims.Sub))

		next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
	})
}

// RequireAnyEntitlement lets a request through when its token carries one of refs.
// An empty refs list admits every authenticated caller. Must run after RequireAuth.
func (m *AuthMiddleware) RequireAnyEntitlement(refs ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := observability.WithRequest(ctx, m.logger)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				logger.Error("claims not found in context")
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if len(refs) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			for _, ref := range refs {
				if claims.HasEntitlement(ref) {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.Warn("insufficient permissions",
				zap.String("sub", claims.Sub),
				zap.Strings("required_any", refs))
			_ = utils.WriteForbidden(w, "Insufficient permissions")
		})
	}
}

// extractToken extracts the token from the Authorization header ("Bearer TOKEN") or a cookie.
// The header takes precedence when both are present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	for _, name := range []string{authTokenCookieName, sessionCookieName} {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
