package providers

import (
	"context"
	"fmt"
	"strings"
)

// StubProvider accepts proofs of the form "subject" or "subject:repository"
// without verification. Local development and tests only.
type StubProvider struct {
	name string
}

func NewStubProvider(cfg Config) *StubProvider {
	return &StubProvider{name: cfg.Name}
}

func (s *StubProvider) Name() string {
	return s.name
}

func (s *StubProvider) Resolve(_ context.Context, proof string) (*Identity, error) {
	if proof == "" {
		return nil, fmt.Errorf("empty proof")
	}

	subject, repo, _ := strings.Cut(proof, ":")
	return &Identity{
		Provider:   s.name,
		Subject:    subject,
		Repository: repo,
		Attributes: map[string]any{"sub": subject, "repository": repo},
	}, nil
}
