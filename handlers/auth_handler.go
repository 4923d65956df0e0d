package handlers

import (
	"net/http"

	"github.com/upb/devportal-backend/auth"
	"github.com/upb/devportal-backend/utils"
)

// AuthDeps provides auth handler for route wiring
type AuthDeps interface {
	AuthHandler() *auth.Handler
}

func withAuthHandler(deps AuthDeps, serve func(h *auth.Handler, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := deps.AuthHandler(); h != nil {
			serve(h, w, r)
			return
		}
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
	}
}

// AuthProvidersHandler returns an http.HandlerFunc listing the sign-in providers
func AuthProvidersHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleProviders)
}

// AuthStartHandler returns an http.HandlerFunc that begins a provider's sign-in flow
func AuthStartHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleStart)
}

// AuthCallbackHandler returns an http.HandlerFunc for the provider callback
func AuthCallbackHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleCallback)
}

// AuthLogoutHandler returns an http.HandlerFunc for the logout endpoint
func AuthLogoutHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleLogout)
}
