package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/upb/devportal-backend/services/signin"
)

// Authenticator drives the identity-provider side of a login
type Authenticator interface {
	// AuthCodeURL returns the URL the browser is sent to in order to log in
	AuthCodeURL(state, codeChallenge string) string
	// Authenticate exchanges an authorization code and returns the user's profile
	Authenticate(ctx context.Context, code, codeVerifier string) (*signin.Profile, error)
}

// SignInResolverFunc turns an authenticated profile into a sign-in decision
type SignInResolverFunc func(ctx context.Context, profile *signin.Profile) (*signin.Result, error)

// Provider is a registered sign-in provider
type Provider struct {
	ID            string
	Authenticator Authenticator
	Resolve       SignInResolverFunc
}

var (
	// ErrProviderNotFound is returned when no provider is registered under an id
	ErrProviderNotFound = errors.New("auth provider not found")

	// ErrProviderExists is returned when an id is registered twice
	ErrProviderExists = errors.New("auth provider already registered")
)

// Registry holds the sign-in providers in registration order
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]*Provider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
	}
}

// Register adds a provider under id
func (r *Registry) Register(id string, authenticator Authenticator, resolve SignInResolverFunc) error {
	if id == "" {
		return errors.New("provider id is required")
	}
	if authenticator == nil {
		return fmt.Errorf("provider %q: authenticator is required", id)
	}
	if resolve == nil {
		return fmt.Errorf("provider %q: sign-in resolver is required", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("%w: %s", ErrProviderExists, id)
	}
	r.providers[id] = &Provider{ID: id, Authenticator: authenticator, Resolve: resolve}
	r.order = append(r.order, id)
	return nil
}

// Get retrieves a provider by id
func (r *Registry) Get(id string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return provider, nil
}

// List returns the registered provider ids in registration order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
