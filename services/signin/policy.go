// Package signin implements the email-domain sign-in policy: it maps an
// authenticated profile to a catalog user reference and asks the token issuer
// for a token carrying that reference.
package signin

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const (
	// UserKind is the entity kind of every reference produced by the resolver
	UserKind = "User"

	// DefaultNamespace is the catalog namespace users are placed in
	DefaultNamespace = "default"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// AllowedDomains is an immutable, ordered set of lowercase email domains.
// The zero value permits every domain.
type AllowedDomains struct {
	ordered []string
	set     map[string]struct{}
}

// ParseAllowedDomains parses a comma-separated list such as "example.com, corp.example.com".
// Segments are trimmed and lowercased; empty and repeated segments are dropped.
func ParseAllowedDomains(raw string) AllowedDomains {
	allowed := AllowedDomains{set: make(map[string]struct{})}
	for _, part := range strings.Split(raw, ",") {
		domain := strings.ToLower(strings.TrimSpace(part))
		if domain == "" {
			continue
		}
		if _, seen := allowed.set[domain]; seen {
			continue
		}
		allowed.set[domain] = struct{}{}
		allowed.ordered = append(allowed.ordered, domain)
	}
	return allowed
}

// Empty reports whether the set places no restriction on domains
func (a AllowedDomains) Empty() bool {
	return len(a.ordered) == 0
}

// Contains reports whether domain is listed verbatim
func (a AllowedDomains) Contains(domain string) bool {
	_, ok := a.set[domain]
	return ok
}

// Permits reports whether a sign-in from domain may proceed
func (a AllowedDomains) Permits(domain string) bool {
	return a.Empty() || a.Contains(domain)
}

// List returns a copy of the domains in configuration order
func (a AllowedDomains) List() []string {
	out := make([]string, len(a.ordered))
	copy(out, a.ordered)
	return out
}

// Profile is the identity handed over by an authentication provider.
// Only Email is consulted by the policy.
type Profile struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Picture     string `json:"picture,omitempty"`
}

// TokenClaims are the claims requested from the token issuer
type TokenClaims struct {
	Subject      string
	Entitlements []string
}

// TokenIssuer issues a token for the given claims
type TokenIssuer interface {
	IssueToken(ctx context.Context, claims TokenClaims) (string, error)
}

// Result is an accepted sign-in
type Result struct {
	Token         string
	UserEntityRef string
}

// SplitEmail splits email on its first '@'. A missing separator or an empty
// half is an ErrInvalidEmailFormat. "a@b@c.com" yields ("a", "b@c.com").
func SplitEmail(email string) (local, domain string, err error) {
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" || domain == "" {
		return "", "", reject(ErrInvalidEmailFormat, email)
	}
	return local, domain, nil
}

// SanitizeName turns an email local-part into an identifier-safe entity name.
// Every character outside [A-Za-z0-9] becomes a single '-'.
func SanitizeName(local string) string {
	return strings.ToLower(nonAlphanumeric.ReplaceAllString(local, "-"))
}

// UserEntityRef builds the kind:namespace/name reference for a user
func UserEntityRef(name string) string {
	return fmt.Sprintf("%s:%s/%s", UserKind, DefaultNamespace, name)
}

// ResolveUserRef applies the policy to profile. The checks run in a fixed order:
// presence of the email, its shape, then the allow-list.
func ResolveUserRef(profile *Profile, allowed AllowedDomains) (string, error) {
	if profile == nil {
		return "", reject(ErrMissingEmail, "")
	}
	email := strings.TrimSpace(profile.Email)
	if email == "" {
		return "", reject(ErrMissingEmail, "")
	}

	local, domain, err := SplitEmail(email)
	if err != nil {
		return "", err
	}

	if !allowed.Permits(domain) {
		return "", reject(ErrDomainNotAllowed, email)
	}

	return UserEntityRef(SanitizeName(local)), nil
}

// Resolver runs the policy and delegates token issuance
type Resolver struct {
	allowed AllowedDomains
	issuer  TokenIssuer
}

// NewResolver creates a resolver bound to a parsed allow-list
func NewResolver(allowed AllowedDomains, issuer TokenIssuer) *Resolver {
	return &Resolver{
		allowed: allowed,
		issuer:  issuer,
	}
}

// AllowedDomains returns the allow-list the resolver enforces
func (r *Resolver) AllowedDomains() AllowedDomains {
	return r.allowed
}

// SignIn decides a single login attempt. The reference is used both as the
// subject and as the only entitlement of the issued token.
func (r *Resolver) SignIn(ctx context.Context, profile *Profile) (*Result, error) {
	ref, err := ResolveUserRef(profile, r.allowed)
	if err != nil {
		return nil, err
	}

	token, err := r.issuer.IssueToken(ctx, TokenClaims{
		Subject:      ref,
		Entitlements: []string{ref},
	})
	if err != nil {
		return nil, fmt.Errorf("issue token for %s: %w", ref, err)
	}

	return &Result{
		Token:         token,
		UserEntityRef: ref,
	}, nil
}
