package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/devportal-backend/services"
	"golang.org/x/oauth2"
)

const testClientID = "portal-client"

// fakeIdP serves the token and userinfo endpoints of an identity provider
type fakeIdP struct {
	server        *httptest.Server
	key           *rsa.PrivateKey
	idTokenClaims jwt.MapClaims
	userInfo      map[string]interface{}
	lastForm      url.Values
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &fakeIdP{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		idp.lastForm = r.PostForm
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, idp.idTokenClaims).SignedString(idp.key)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if idp.userInfo == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(idp.userInfo)
	})
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *fakeIdP) claims(extra map[string]interface{}) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss": idp.server.URL,
		"aud": testClientID,
		"sub": "user-123",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return claims
}

func (idp *fakeIdP) authenticator() *OIDCAuthenticator {
	ctx := context.Background()
	providerConfig := oidc.ProviderConfig{
		IssuerURL:   idp.server.URL,
		AuthURL:     idp.server.URL + "/authorize",
		TokenURL:    idp.server.URL + "/token",
		UserInfoURL: idp.server.URL + "/userinfo",
		Algorithms:  []string{oidc.RS256},
	}
	provider := providerConfig.NewProvider(ctx)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&idp.key.PublicKey}}

	return &OIDCAuthenticator{
		provider: provider,
		verifier: oidc.NewVerifier(idp.server.URL, keySet, &oidc.Config{ClientID: testClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     testClientID,
			ClientSecret: "secret",
			RedirectURL:  "http://localhost:7007/api/auth/oidc/handler/frame",
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}
}

func TestOIDCAuthenticator_AuthCodeURL(t *testing.T) {
	idp := newFakeIdP(t)
	authn := idp.authenticator()

	raw := authn.AuthCodeURL("state-1", "challenge-1")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "/authorize", parsed.Path)
	assert.Equal(t, "state-1", query.Get("state"))
	assert.Equal(t, "challenge-1", query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Equal(t, testClientID, query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
}

func TestOIDCAuthenticator_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("profile from id token claims", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.idTokenClaims = idp.claims(map[string]interface{}{
			"email":   "alice@example.com",
			"name":    "Alice",
			"picture": "https://example.com/alice.png",
		})

		profile, err := idp.authenticator().Authenticate(ctx, "good-code", "verifier-1")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", profile.Email)
		assert.Equal(t, "Alice", profile.DisplayName)
		assert.Equal(t, "https://example.com/alice.png", profile.Picture)
		assert.Equal(t, "verifier-1", idp.lastForm.Get("code_verifier"))
	})

	t.Run("falls back to userinfo when the claim is absent", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.idTokenClaims = idp.claims(map[string]interface{}{"preferred_username": "bob"})
		idp.userInfo = map[string]interface{}{"sub": "user-123", "email": "bob@example.com"}

		profile, err := idp.authenticator().Authenticate(ctx, "good-code", "verifier")
		require.NoError(t, err)
		assert.Equal(t, "bob@example.com", profile.Email)
		assert.Equal(t, "bob", profile.DisplayName)
	})

	t.Run("no email anywhere yields an empty email", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.idTokenClaims = idp.claims(nil)

		profile, err := idp.authenticator().Authenticate(ctx, "good-code", "verifier")
		require.NoError(t, err)
		assert.Empty(t, profile.Email)
	})

	t.Run("rejected code", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.idTokenClaims = idp.claims(nil)

		_, err := idp.authenticator().Authenticate(ctx, "bad-code", "verifier")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exchange code")
		assert.False(t, services.IsExternalError(err))
	})

	t.Run("unreachable token endpoint", func(t *testing.T) {
		idp := newFakeIdP(t)
		authn := idp.authenticator()
		idp.server.Close()

		_, err := authn.Authenticate(ctx, "good-code", "verifier")
		require.Error(t, err)
		assert.True(t, services.IsExternalError(err))
		assert.Contains(t, err.Error(), "exchange code")
	})

	t.Run("id token for another client", func(t *testing.T) {
		idp := newFakeIdP(t)
		idp.idTokenClaims = idp.claims(map[string]interface{}{"aud": "someone-else", "email": "a@example.com"})

		_, err := idp.authenticator().Authenticate(ctx, "good-code", "verifier")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verify id token")
	})
}

func TestNewOIDCAuthenticator_RequiresIssuerAndClient(t *testing.T) {
	_, err := NewOIDCAuthenticator(context.Background(), OIDCConfig{ClientID: "x"})
	assert.Error(t, err)

	_, err = NewOIDCAuthenticator(context.Background(), OIDCConfig{IssuerURL: "https://idp.example.com"})
	assert.Error(t, err)
}

func TestNewOIDCAuthenticator_DiscoveryFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewOIDCAuthenticator(context.Background(), OIDCConfig{IssuerURL: server.URL, ClientID: testClientID})
	require.Error(t, err)
	assert.True(t, services.IsExternalError(err))
}

func TestPKCE(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.Len(t, verifier, 43)

	other, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, other)

	// RFC 7636 appendix B
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		GenerateCodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}
