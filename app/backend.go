package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/devportal-backend/config"
	"go.uber.org/zap"
)

// Feature names, in the order the default manifest activates them
const (
	FeatureObservability = "observability"
	FeatureAudit         = "audit"
	FeatureAuth          = "auth"
	FeatureAuthOIDC      = "auth-oidc"
)

// ErrUnknownVariant is returned by Manifest for a variant it does not know
var ErrUnknownVariant = errors.New("unknown backend variant")

// Feature is one capability the backend activates at startup
type Feature struct {
	Name     string
	Requires []string
	Init     func(ctx context.Context, deps *Dependencies) error
}

// Backend is an ordered feature manifest
type Backend struct {
	features []Feature
	names    map[string]bool
}

// NewBackend creates an empty manifest
func NewBackend() *Backend {
	return &Backend{names: make(map[string]bool)}
}

// Add appends a feature to the manifest
func (b *Backend) Add(f Feature) error {
	if f.Name == "" {
		return fmt.Errorf("feature name is required")
	}
	if f.Init == nil {
		return fmt.Errorf("feature %q: init function is required", f.Name)
	}
	if b.names[f.Name] {
		return fmt.Errorf("feature %q already added", f.Name)
	}
	b.names[f.Name] = true
	b.features = append(b.features, f)
	return nil
}

// Names lists the manifest in activation order
func (b *Backend) Names() []string {
	names := make([]string, 0, len(b.features))
	for _, f := range b.features {
		names = append(names, f.Name)
	}
	return names
}

// Start initializes features in manifest order and stops at the first failure.
// Each activated feature is appended to deps.Features.
func (b *Backend) Start(ctx context.Context, deps *Dependencies) error {
	active := make(map[string]bool, len(b.features))
	for _, name := range deps.Features {
		active[name] = true
	}

	for _, f := range b.features {
		for _, req := range f.Requires {
			if !active[req] {
				return fmt.Errorf("feature %q requires %q, which is not active", f.Name, req)
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("start feature %q: %w", f.Name, err)
		}
		if err := f.Init(ctx, deps); err != nil {
			return fmt.Errorf("start feature %q: %w", f.Name, err)
		}
		active[f.Name] = true
		deps.Features = append(deps.Features, f.Name)
		deps.Logger.Info("feature activated", zap.String("feature", f.Name))
	}
	return nil
}

// Manifest returns the feature list for a backend variant
func Manifest(variant string) (*Backend, error) {
	var features []Feature
	switch variant {
	case config.VariantOIDC, "":
		features = []Feature{
			{Name: FeatureObservability, Init: initObservability},
			{Name: FeatureAudit, Init: initAudit},
			{Name: FeatureAuth, Init: initAuth},
			{Name: FeatureAuthOIDC, Requires: []string{FeatureAuth}, Init: initAuthOIDC},
		}
	case config.VariantMinimal:
		features = []Feature{
			{Name: FeatureObservability, Init: initObservability},
			{Name: FeatureAuth, Init: initAuth},
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}

	b := NewBackend()
	for _, f := range features {
		if err := b.Add(f); err != nil {
			return nil, err
		}
	}
	return b, nil
}
