package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusDeps struct {
	features  []string
	providers []string
}

func (s statusDeps) Version() string          { return "1.2.3" }
func (s statusDeps) Environment() string      { return "development" }
func (s statusDeps) Variant() string          { return "oidc" }
func (s statusDeps) ActiveFeatures() []string { return s.features }
func (s statusDeps) ProviderIDs() []string    { return s.providers }

func TestStatusHandler(t *testing.T) {
	t.Run("reports features and providers", func(t *testing.T) {
		deps := statusDeps{
			features:  []string{"observability", "audit", "auth", "auth-oidc"},
			providers: []string{"oidc"},
		}

		w := httptest.NewRecorder()
		StatusHandler(deps)(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, "1.2.3", data["version"])
		assert.Equal(t, "development", data["environment"])
		assert.Equal(t, "oidc", data["variant"])
		assert.Equal(t, []interface{}{"observability", "audit", "auth", "auth-oidc"}, data["features"])
		assert.Equal(t, []interface{}{"oidc"}, data["providers"])
	})

	t.Run("empty lists are arrays", func(t *testing.T) {
		w := httptest.NewRecorder()
		StatusHandler(statusDeps{})(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

		data := decodeData(t, w)
		assert.Equal(t, []interface{}{}, data["features"])
		assert.Equal(t, []interface{}{}, data["providers"])
	})
}
