// Package providers resolves CI-system proofs (OIDC id tokens, GitHub
// tokens) into verified identities that the policy engine can grant
// audiences to.
package providers

import "context"

// Identity is the verified result of resolving a proof with a provider.
type Identity struct {
	// Provider is the configured name of the provider that verified the proof.
	Provider string
	// Subject is the stable identifier of the caller (e.g. the "sub" claim or
	// a GitHub login). Grants map it to a service-account user.
	Subject string
	// Repository is the repo the proof was issued for, when the provider
	// conveys one (e.g. "org/repo" from a CI OIDC token).
	Repository string
	// Attributes are the raw claims extracted from the proof; policy rules
	// match against them.
	Attributes map[string]any
}

// Provider verifies an upstream proof and produces an Identity.
type Provider interface {
	// Name returns the configured provider name.
	Name() string

	// Resolve verifies the proof. A failed verification returns an error;
	// the returned Identity is trustworthy.
	Resolve(ctx context.Context, proof string) (*Identity, error)
}

// Config declares one provider instance in the policy file.
type Config struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Options map[string]string `yaml:"options"`
}
