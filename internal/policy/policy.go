// Package policy decides what an authenticated CI identity is allowed to
// mint. Rules live in a YAML file; each rule names a provider, a set of
// attribute matchers, an optional expression, and the grant to apply when
// the rule fires. First matching rule wins.
package policy

import (
	"time"

	"github.com/toolchainlabs/tokensvc/internal/providers"
	"github.com/toolchainlabs/tokensvc/internal/token"
)

// Grant is the raw grant block of a rule as written in the policy file.
type Grant struct {
	// User is the login of the service account tokens are issued for.
	User string `yaml:"user"`
	// Audience lists audience names the token may carry.
	Audience []string `yaml:"audience"`
	// MaxTTL caps the refresh token lifetime; zero means the server default.
	MaxTTL time.Duration `yaml:"max_ttl"`
	// AllowImpersonation adds the impersonate audience flag.
	AllowImpersonation bool `yaml:"allow_impersonation"`
}

// Rule is one policy entry.
type Rule struct {
	Name string `yaml:"name"`
	// Provider restricts the rule to identities from the named provider.
	// Empty matches any provider.
	Provider string `yaml:"provider"`
	// Match maps attribute names to required values. All must match.
	Match map[string]string `yaml:"match"`
	// Expr is an optional expression evaluated against the identity.
	Expr  string `yaml:"expr"`
	Grant Grant  `yaml:"grant"`
}

// File is the top level shape of the policy file.
type File struct {
	Providers []providers.Config `yaml:"providers"`
	Rules     []Rule             `yaml:"rules"`
}

// ResolvedGrant is the effective grant after audience names are parsed and
// the impersonation flag is folded in.
type ResolvedGrant struct {
	Rule     string
	User     string
	Audience token.Audience
	MaxTTL   time.Duration
}
