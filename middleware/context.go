package middleware

import (
	"context"
	"time"
)

// Context key type to avoid collisions
type contextKey string

// ClaimsKey is the context key for token claims
const ClaimsKey contextKey = "claims"

// Claims represents the claims of a validated portal token
type Claims struct {
	Sub          string    `json:"sub"`
	Entitlements []string  `json:"ent"`
	Issuer       string    `json:"iss"`
	ExpiresAt    time.Time `json:"exp"`
}

// HasEntitlement reports whether ref is one of the token's entitlements
func (c *Claims) HasEntitlement(ref string) bool {
	for _, ent := range c.Entitlements {
		if ent == ref {
			return true
		}
	}
	return false
}

// GetClaimsFromContext retrieves token claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds token claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
