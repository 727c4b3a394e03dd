package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubProvider_Resolve(t *testing.T) {
	p := NewStubProvider(Config{Name: "local"})

	id, err := p.Resolve(context.Background(), "ci-bot:acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "local", id.Provider)
	assert.Equal(t, "ci-bot", id.Subject)
	assert.Equal(t, "acme/widgets", id.Repository)
}

func TestStubProvider_EmptyProof(t *testing.T) {
	p := NewStubProvider(Config{Name: "local"})

	_, err := p.Resolve(context.Background(), "")
	assert.Error(t, err)
}

func TestGitHubProvider_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/user" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"login": "octocat", "id": 583231, "type": "User"}`)
	}))
	defer srv.Close()

	p := NewGitHubProvider(Config{Name: "gh"})
	p.newClient = func(ctx context.Context, token string) (*github.Client, error) {
		client := github.NewClient(nil)
		return client.WithEnterpriseURLs(srv.URL, srv.URL)
	}

	id, err := p.Resolve(context.Background(), "ghp_testtoken")
	require.NoError(t, err)
	assert.Equal(t, "gh", id.Provider)
	assert.Equal(t, "octocat", id.Subject)
	assert.Equal(t, "octocat", id.Attributes["login"])
}

func TestGitHubProvider_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewGitHubProvider(Config{Name: "gh"})
	p.newClient = func(ctx context.Context, token string) (*github.Client, error) {
		client := github.NewClient(nil)
		return client.WithEnterpriseURLs(srv.URL, srv.URL)
	}

	_, err := p.Resolve(context.Background(), "ghp_bad")
	assert.Error(t, err)
}

func TestBuildRegistry_StubAndUnknown(t *testing.T) {
	reg, err := BuildRegistry(context.Background(), []Config{
		{Name: "local", Type: "stub"},
		{Name: "gh", Type: "github"},
	})
	require.NoError(t, err)

	p, err := reg.Get("local")
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	_, err = reg.Get("missing")
	assert.Error(t, err)

	_, err = BuildRegistry(context.Background(), []Config{{Name: "x", Type: "bogus"}})
	assert.Error(t, err)
}

func TestOIDCProvider_IssuerMismatchRejected(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"https://evil.example.com","sub":"x"}`))
	proof := header + "." + body + ".sig"

	p := &OIDCProvider{name: "gha", issuerURL: "https://token.actions.example.com"}

	_, err := p.Resolve(context.Background(), proof)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer mismatch")
}

func TestOIDCProvider_MalformedProofRejected(t *testing.T) {
	p := &OIDCProvider{name: "gha", issuerURL: "https://token.actions.example.com"}

	_, err := p.Resolve(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestExtractIssuerURL(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]any{"iss": "https://token.actions.example.com", "sub": "repo:acme/widgets"})
	require.NoError(t, err)
	body := base64.RawURLEncoding.EncodeToString(payload)
	token := header + "." + body + ".sig"

	iss, err := ExtractIssuerURL(token)
	require.NoError(t, err)
	assert.Equal(t, "https://token.actions.example.com", iss)
}

func TestExtractIssuerURL_MissingClaim(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"someone"}`))

	_, err := ExtractIssuerURL(header + "." + body + ".sig")
	assert.Error(t, err)
}
