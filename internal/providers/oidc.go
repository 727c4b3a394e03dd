package providers

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// OIDCProvider verifies OIDC id tokens minted by a CI system's identity
// endpoint. One instance per configured issuer.
type OIDCProvider struct {
	name      string
	issuerURL string
	verifier  *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers the issuer and prepares a verifier. Required
// options: issuer_url, client_id (the expected audience).
func NewOIDCProvider(ctx context.Context, cfg Config) (*OIDCProvider, error) {
	issuerURL, ok := cfg.Options["issuer_url"]
	if !ok {
		return nil, fmt.Errorf("oidc provider %q missing 'issuer_url'", cfg.Name)
	}
	clientID, ok := cfg.Options["client_id"]
	if !ok {
		return nil, fmt.Errorf("oidc provider %q missing 'client_id'", cfg.Name)
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("creating oidc provider for %q: %w", cfg.Name, err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})

	return &OIDCProvider{name: cfg.Name, issuerURL: issuerURL, verifier: verifier}, nil
}

func (o *OIDCProvider) Name() string {
	return o.name
}

// Resolve verifies the id token and extracts its claims. Tokens from a
// different issuer are rejected up front, before any signature check.
func (o *OIDCProvider) Resolve(ctx context.Context, proof string) (*Identity, error) {
	iss, err := ExtractIssuerURL(proof)
	if err != nil {
		return nil, fmt.Errorf("oidc verification failed: %w", err)
	}
	if iss != o.issuerURL {
		return nil, fmt.Errorf("oidc issuer mismatch: token from %q, provider %q expects %q", iss, o.name, o.issuerURL)
	}

	idToken, err := o.verifier.Verify(ctx, proof)
	if err != nil {
		return nil, fmt.Errorf("oidc verification failed: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting oidc claims: %w", err)
	}

	id := &Identity{
		Provider:   o.name,
		Subject:    idToken.Subject,
		Attributes: claims,
	}
	if repo, ok := claims["repository"].(string); ok {
		id.Repository = repo
	}
	return id, nil
}

// ExtractIssuerURL extracts the 'iss' claim from a JWT token string without
// verifying it, so a token from the wrong issuer can be rejected before the
// verifier fetches any keys.
func ExtractIssuerURL(tokenString string) (string, error) {
	parser := jwt.NewParser()
	tok, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	issRaw, ok := claims["iss"]
	if !ok {
		return "", fmt.Errorf("token missing 'iss' claim")
	}

	iss, ok := issRaw.(string)
	if !ok {
		return "", fmt.Errorf("invalid 'iss' claim type")
	}

	return iss, nil
}
