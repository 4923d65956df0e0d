package handlers

import (
	"net/http"

	"github.com/upb/devportal-backend/utils"
)

// StatusResponse describes the running backend
type StatusResponse struct {
	Version     string   `json:"version"`
	Environment string   `json:"environment"`
	Variant     string   `json:"variant"`
	Features    []string `json:"features"`
	Providers   []string `json:"providers"`
}

// StatusDeps exposes what the status endpoint reports
type StatusDeps interface {
	Version() string
	Environment() string
	Variant() string
	ActiveFeatures() []string
	ProviderIDs() []string
}

// StatusHandler returns an http.HandlerFunc for GET /api/v1/status
func StatusHandler(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		features := deps.ActiveFeatures()
		if features == nil {
			features = []string{}
		}
		providers := deps.ProviderIDs()
		if providers == nil {
			providers = []string{}
		}
		_ = utils.WriteOK(w, StatusResponse{
			Version:     deps.Version(),
			Environment: deps.Environment(),
			Variant:     deps.Variant(),
			Features:    features,
			Providers:   providers,
		})
	}
}
