package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/devportal-backend/services/signin"
)

const minSigningKeyLength = 32

var (
	// ErrInvalidToken is returned when the token is malformed or its signature does not verify
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token was issued by someone else
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token is meant for another audience
	ErrInvalidAudience = errors.New("invalid audience")
)

// Claims are the claims carried by an issued portal token
type Claims struct {
	jwt.RegisteredClaims
	Entitlements []string `json:"ent"`
}

// Config holds configuration for the Issuer
type Config struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	TTL        time.Duration
}

// Issuer signs and verifies HS256 portal tokens
type Issuer struct {
	issuer   string
	audience string
	key      []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer creates a new token issuer
func NewIssuer(config Config) (*Issuer, error) {
	if len(config.SigningKey) < minSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", minSigningKeyLength)
	}
	if config.Issuer == "" {
		return nil, errors.New("token issuer is required")
	}
	if config.Audience == "" {
		return nil, errors.New("token audience is required")
	}
	if config.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}

	return &Issuer{
		issuer:   config.Issuer,
		audience: config.Audience,
		key:      config.SigningKey,
		ttl:      config.TTL,
		now:      time.Now,
	}, nil
}

// TTL returns the lifetime of issued tokens
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// IssueToken signs a token for the given subject and entitlements
func (i *Issuer) IssueToken(ctx context.Context, claims signin.TokenClaims) (string, error) {
	if claims.Subject == "" {
		return "", errors.New("token subject is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := i.now()
	tokenClaims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   claims.Subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Entitlements: claims.Entitlements,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies a token previously issued by this issuer and returns its claims
func (i *Issuer) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.key, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidIssuer
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}

	return claims, nil
}
