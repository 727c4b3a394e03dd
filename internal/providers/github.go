package providers

import (
	"context"
	"fmt"

	"github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
)

// GitHubProvider resolves a GitHub token by asking the GitHub API who it
// belongs to. The token itself is the proof.
type GitHubProvider struct {
	name    string
	baseURL string

	// newClient is replaced in tests to point the client at a test server.
	newClient func(ctx context.Context, token string) (*github.Client, error)
}

// NewGitHubProvider builds a provider backed by the GitHub API. The optional
// "base_url" option points it at a GitHub Enterprise instance.
func NewGitHubProvider(cfg Config) *GitHubProvider {
	p := &GitHubProvider{name: cfg.Name, baseURL: cfg.Options["base_url"]}
	p.newClient = p.defaultClient
	return p
}

func (g *GitHubProvider) defaultClient(ctx context.Context, token string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if g.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(g.baseURL, g.baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise base url: %w", err)
		}
	}
	return client, nil
}

func (g *GitHubProvider) Name() string {
	return g.name
}

// Resolve looks up the authenticated user behind the token.
func (g *GitHubProvider) Resolve(ctx context.Context, proof string) (*Identity, error) {
	client, err := g.newClient(ctx, proof)
	if err != nil {
		return nil, err
	}

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("github token verification failed: %w", err)
	}

	attrs := map[string]any{
		"login": user.GetLogin(),
		"id":    user.GetID(),
		"type":  user.GetType(),
	}
	if user.GetCompany() != "" {
		attrs["company"] = user.GetCompany()
	}

	return &Identity{
		Provider:   g.name,
		Subject:    user.GetLogin(),
		Attributes: attrs,
	}, nil
}
