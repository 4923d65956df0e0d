package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/devportal-backend/internal/observability"
	"github.com/upb/devportal-backend/models"
	"github.com/upb/devportal-backend/services"
	"github.com/upb/devportal-backend/services/signin"
	"github.com/upb/devportal-backend/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// VerifierCookieName is the cookie name for the PKCE code verifier
	VerifierCookieName = "oauth_verifier"
	// SessionCookieName is the cookie name for the session token
	SessionCookieName = "session"

	stateCookieMaxAge = 600
)

// SignInObserver is notified of every completed callback
type SignInObserver interface {
	ObserveSignIn(ctx context.Context, attempt models.SignInAttempt)
}

// HandlerConfig holds the browser-facing settings of the auth handler
type HandlerConfig struct {
	// FrontEndURL is where the browser lands after a successful login
	FrontEndURL string
	// SecureCookies marks every cookie Secure; set when served over https
	SecureCookies bool
	// SessionTTL bounds the session cookie, normally the token TTL
	SessionTTL time.Duration
}

// Handler serves the sign-in flow of every registered provider
type Handler struct {
	registry  *Registry
	cfg       HandlerConfig
	observers []SignInObserver
	logger    *zap.Logger
}

// NewHandler creates a new auth handler over registry
func NewHandler(registry *Registry, cfg HandlerConfig, logger *zap.Logger, observers ...SignInObserver) *Handler {
	if cfg.FrontEndURL == "" {
		cfg.FrontEndURL = "/"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	return &Handler{
		registry:  registry,
		cfg:       cfg,
		observers: observers,
		logger:    logger,
	}
}

// HandleProviders lists the registered provider ids
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]interface{}{
		"providers": h.registry.List(),
	})
}

// HandleStart sets the state and verifier cookies and redirects to the identity provider
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		h.logger.Error("failed to generate code verifier", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	h.setFlowCookie(w, StateCookieName, state, stateCookieMaxAge)
	h.setFlowCookie(w, VerifierCookieName, verifier, stateCookieMaxAge)

	authURL := provider.Authenticator.AuthCodeURL(state, GenerateCodeChallenge(verifier))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the login: it verifies the state, exchanges the code,
// applies the provider's sign-in resolver and sets the session cookie.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := observability.WithRequest(ctx, h.logger)

	query := r.URL.Query()
	if idpErr := query.Get("error"); idpErr != "" {
		logger.Warn("identity provider returned an error",
			zap.String("provider", provider.ID),
			zap.String("error", idpErr),
			zap.String("description", query.Get("error_description")))
		h.observe(r, models.NewSignInAttempt(provider.ID, models.SignInError).WithReason(idpErr))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	verifierCookie, err := r.Cookie(VerifierCookieName)
	if err != nil || verifierCookie.Value == "" {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}

	h.setFlowCookie(w, StateCookieName, "", -1)
	h.setFlowCookie(w, VerifierCookieName, "", -1)

	profile, err := provider.Authenticator.Authenticate(ctx, code, verifierCookie.Value)
	if err != nil {
		logger.Warn("authentication failed",
			zap.String("provider", provider.ID),
			zap.Error(err))
		if services.IsExternalError(err) {
			h.observe(r, models.NewSignInAttempt(provider.ID, models.SignInError).WithReason("identity provider unavailable"))
			_ = utils.WriteError(w, http.StatusBadGateway, "Identity provider unavailable", nil)
			return
		}
		h.observe(r, models.NewSignInAttempt(provider.ID, models.SignInError).WithReason("authentication failed"))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	result, err := provider.Resolve(ctx, profile)
	if err != nil {
		var rejection *signin.Error
		if errors.As(err, &rejection) {
			logger.Info("sign-in rejected",
				zap.String("provider", provider.ID),
				zap.String("email", rejection.Email),
				zap.String("reason", rejection.Kind.Error()))
			h.observe(r, models.NewSignInAttempt(provider.ID, models.SignInRejected).
				WithIdentity(profile.Email, "").
				WithReason(rejection.Kind.Error()))
			_ = utils.WriteForbidden(w, rejection.Error())
			return
		}

		logger.Error("sign-in resolution failed",
			zap.String("provider", provider.ID),
			zap.Error(err))
		h.observe(r, models.NewSignInAttempt(provider.ID, models.SignInError).
			WithIdentity(profile.Email, "").
			WithReason("token issuance failed"))
		_ = utils.WriteInternalServerError(w, "Failed to complete sign-in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	logger.Info("sign-in accepted",
		zap.String("provider", provider.ID),
		zap.String("user_entity_ref", result.UserEntityRef))
	h.observe(r, models.NewSignInAttempt(provider.ID, models.SignInAccepted).
		WithIdentity(profile.Email, result.UserEntityRef))

	http.Redirect(w, r, h.cfg.FrontEndURL, http.StatusFound)
}

// HandleLogout clears the session cookie
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.provider(w, r); !ok {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	_ = utils.WriteMessage(w, "logged out")
}

func (h *Handler) provider(w http.ResponseWriter, r *http.Request) (*Provider, bool) {
	id := chi.URLParam(r, "provider")
	provider, err := h.registry.Get(id)
	if err != nil {
		_ = utils.WriteNotFound(w, "Unknown auth provider")
		return nil, false
	}
	return provider, true
}

// setFlowCookie writes a short-lived cookie used between start and callback.
// Lax so the cookie survives the top-level redirect back from the identity provider.
func (h *Handler) setFlowCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) observe(r *http.Request, attempt *models.SignInAttempt) {
	attempt.WithRequest(chimw.GetReqID(r.Context()), clientIP(r), r.UserAgent())
	for _, observer := range h.observers {
		observer.ObserveSignIn(r.Context(), *attempt)
	}
}

// clientIP returns the bare address of RemoteAddr, or "" when it is not an IP.
// RemoteAddr already holds the forwarded client address once chi's RealIP has run.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return ""
	}
	if addr.Zone() != "" {
		return addr.WithZone("").String()
	}
	return host
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
