package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/upb/devportal-backend/services"
	"github.com/upb/devportal-backend/services/signin"
	"golang.org/x/oauth2"
)

// OIDCConfig holds the client registration at the identity provider
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// idTokenClaims are the ID token claims the profile is built from
type idTokenClaims struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
}

// OIDCAuthenticator implements Authenticator against an OpenID Connect provider
// using the authorization-code flow with PKCE.
type OIDCAuthenticator struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

// NewOIDCAuthenticator discovers the provider's configuration and builds the OAuth2 client
func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig) (*OIDCAuthenticator, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc issuer URL and client id are required")
	}

	// Fetches .well-known/openid-configuration
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, services.WrapExternal("failed to create OIDC provider", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &OIDCAuthenticator{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL returns the authorization URL with PKCE S256 parameters
func (a *OIDCAuthenticator) AuthCodeURL(state, codeChallenge string) string {
	return a.oauth2Config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Authenticate exchanges the code, verifies the ID token and builds the profile.
// When the ID token carries no email the userinfo endpoint is consulted.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, code, codeVerifier string) (*signin.Profile, error) {
	oauth2Token, err := a.oauth2Config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		err = fmt.Errorf("exchange code: %w", err)
		var rejected *oauth2.RetrieveError
		if errors.As(err, &rejected) && (rejected.Response == nil || rejected.Response.StatusCode < 500) {
			return nil, err
		}
		return nil, services.WrapExternal("identity provider unavailable", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("no id_token in token response")
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}

	profile := profileFromClaims(claims)
	if strings.TrimSpace(profile.Email) != "" {
		return profile, nil
	}

	info, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(oauth2Token))
	if err != nil {
		// Missing email is the policy's call to make, not the provider's
		return profile, nil
	}
	var infoClaims idTokenClaims
	if err := info.Claims(&infoClaims); err == nil {
		mergeProfile(profile, profileFromClaims(infoClaims))
	}
	if profile.Email == "" {
		profile.Email = info.Email
	}
	return profile, nil
}

func profileFromClaims(claims idTokenClaims) *signin.Profile {
	displayName := claims.Name
	if displayName == "" {
		displayName = claims.PreferredUsername
	}
	return &signin.Profile{
		Email:       claims.Email,
		DisplayName: displayName,
		Picture:     claims.Picture,
	}
}

func mergeProfile(dst, src *signin.Profile) {
	if dst.Email == "" {
		dst.Email = src.Email
	}
	if dst.DisplayName == "" {
		dst.DisplayName = src.DisplayName
	}
	if dst.Picture == "" {
		dst.Picture = src.Picture
	}
}

// GenerateCodeVerifier returns a random base64url PKCE code verifier (43 characters)
func GenerateCodeVerifier() (string, error) {
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// GenerateCodeChallenge derives the S256 code challenge of RFC 7636 from a verifier
func GenerateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
