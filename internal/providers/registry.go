package providers

import (
	"context"
	"fmt"
)

// Registry maps provider names to constructed providers.
type Registry map[string]Provider

// BuildRegistry constructs every configured provider. Provider types:
// "oidc" (generic OIDC verifier, covers CircleCI/Buildkite/Travis-style id
// tokens), "github" (personal/installation token lookup), "stub" (tests and
// local development).
func BuildRegistry(ctx context.Context, cfgs []Config) (Registry, error) {
	registry := make(Registry)
	for _, cfg := range cfgs {
		switch cfg.Type {
		case "oidc":
			p, err := NewOIDCProvider(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("building oidc provider %q: %w", cfg.Name, err)
			}
			registry[cfg.Name] = p
		case "github":
			registry[cfg.Name] = NewGitHubProvider(cfg)
		case "stub":
			registry[cfg.Name] = NewStubProvider(cfg)
		default:
			return nil, fmt.Errorf("unknown provider type %q for provider %q", cfg.Type, cfg.Name)
		}
	}
	return registry, nil
}

// Get returns the named provider or an error naming the miss.
func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}
