package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func aliceClaims() *Claims {
	return &Claims{
		Sub:          "User:default/alice",
		Entitlements: []string{"User:default/alice"},
	}
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token in Authorization header allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		claims := aliceClaims()

		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			extracted := GetClaimsFromContext(r.Context())
			assert.NotNil(t, extracted)
			assert.Equal(t, claims.Sub, extracted.Sub)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("session cookie set by the sign-in callback is accepted", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		mockValidator.On("ValidateToken", mock.Anything, "session-token").Return(aliceClaims(), nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: "session-token"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken")
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		mockValidator.On("ValidateToken", mock.Anything, "expired").Return(nil, errors.New("token expired"))

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer expired")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid or expired token")
	})
}

func TestRequireAuth_LogsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	middleware := NewAuthMiddleware(new(MockTokenValidator), zap.New(core))

	handler := chimw.RequestID(middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-7")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	entries := logs.FilterMessage("missing token").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-7", entries[0].ContextMap()["request_id"])
}

func TestRequireAnyEntitlement(t *testing.T) {
	logger := zap.NewNop()
	middleware := NewAuthMiddleware(new(MockTokenValidator), logger)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		claims     *Claims
		refs       []string
		wantStatus int
	}{
		{name: "no claims", claims: nil, refs: nil, wantStatus: http.StatusUnauthorized},
		{name: "empty list admits any caller", claims: aliceClaims(), refs: nil, wantStatus: http.StatusOK},
		{name: "matching entitlement", claims: aliceClaims(), refs: []string{"User:default/bob", "User:default/alice"}, wantStatus: http.StatusOK},
		{name: "no matching entitlement", claims: aliceClaims(), refs: []string{"User:default/bob"}, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()

			middleware.RequireAnyEntitlement(tt.refs...)(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name          string
		authHeader    string
		cookieName    string
		cookieValue   string
		expectedToken string
	}{
		{name: "valid Bearer token in header", authHeader: "Bearer valid-token-123", expectedToken: "valid-token-123"},
		{name: "Bearer with lowercase", authHeader: "bearer valid-token-123", expectedToken: "valid-token-123"},
		{name: "token from auth_token cookie", cookieName: "auth_token", cookieValue: "cookie-token", expectedToken: "cookie-token"},
		{name: "token from session cookie", cookieName: "session", cookieValue: "session-token", expectedToken: "session-token"},
		{name: "header takes precedence over cookie", authHeader: "Bearer header-token", cookieName: "session", cookieValue: "cookie-token", expectedToken: "header-token"},
		{name: "missing both returns empty", expectedToken: ""},
		{name: "no space falls back to cookie", authHeader: "Bearertoken", cookieName: "session", cookieValue: "cookie-token", expectedToken: "cookie-token"},
		{name: "wrong scheme falls back to cookie", authHeader: "Basic token", cookieName: "session", cookieValue: "cookie-token", expectedToken: "cookie-token"},
		{name: "unrelated cookie is ignored", cookieName: "oauth_state", cookieValue: "state", expectedToken: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: tt.cookieName, Value: tt.cookieValue})
			}

			assert.Equal(t, tt.expectedToken, extractToken(req))
		})
	}
}

func TestClaims_HasEntitlement(t *testing.T) {
	claims := aliceClaims()
	assert.True(t, claims.HasEntitlement("User:default/alice"))
	assert.False(t, claims.HasEntitlement("User:default/bob"))
	assert.Nil(t, GetClaimsFromContext(context.Background()))
}
