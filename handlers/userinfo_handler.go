package handlers

import (
	"net/http"
	"time"

	"github.com/upb/devportal-backend/middleware"
	"github.com/upb/devportal-backend/services"
	"github.com/upb/devportal-backend/utils"
	"go.uber.org/zap"
)

// UserInfoResponse is the identity carried by the caller's portal token
type UserInfoResponse struct {
	Sub          string   `json:"sub"`
	Entitlements []string `json:"ent"`
	ExpiresAt    string   `json:"exp,omitempty"`
}

// UserInfoHandler returns an http.HandlerFunc for GET /api/auth/v1/userinfo.
// Must be mounted behind AuthMiddleware.RequireAuth.
func UserInfoHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetClaimsFromContext(r.Context())
		if claims == nil {
			HandleServiceError(w, services.ErrUnauthorized, logger)
			return
		}

		resp := UserInfoResponse{
			Sub:          claims.Sub,
			Entitlements: claims.Entitlements,
		}
		if resp.Entitlements == nil {
			resp.Entitlements = []string{}
		}
		if !claims.ExpiresAt.IsZero() {
			resp.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
		}
		_ = utils.WriteOK(w, resp)
	}
}
