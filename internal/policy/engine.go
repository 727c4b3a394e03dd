package policy

import (
	"fmt"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/goccy/go-yaml"

	"github.com/toolchainlabs/tokensvc/internal/common"
	"github.com/toolchainlabs/tokensvc/internal/providers"
	"github.com/toolchainlabs/tokensvc/internal/token"
)

// Engine evaluates compiled rules against identities.
type Engine struct {
	file  *File
	rules []compiledRule
}

type compiledRule struct {
	rule    Rule
	program *vm.Program
}

// exprEnv is the environment rule expressions run in.
type exprEnv struct {
	Provider   string         `expr:"provider"`
	Subject    string         `expr:"subject"`
	Repository string         `expr:"repository"`
	Attributes map[string]any `expr:"attributes"`
}

// LoadFile reads and compiles a policy file.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return Load(data)
}

// Load parses YAML policy and compiles every rule expression up front so a
// bad expression fails at startup, not at request time.
func Load(data []byte) (*Engine, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing policy yaml: %w", err)
	}

	e := &Engine{file: &file}
	for _, rule := range file.Rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("policy rule without a name")
		}
		if rule.Grant.User == "" {
			return nil, fmt.Errorf("rule %q grants no user", rule.Name)
		}
		if _, err := parseAudience(rule.Grant); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}

		cr := compiledRule{rule: rule}
		if rule.Expr != "" {
			program, err := expr.Compile(rule.Expr, expr.Env(exprEnv{}), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("compiling expr for rule %q: %w", rule.Name, err)
			}
			cr.program = program
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Providers returns the provider configs declared in the policy file.
func (e *Engine) Providers() []providers.Config {
	return e.file.Providers
}

// Evaluate finds the first rule matching the identity and returns its grant.
// No match is an authorization failure.
func (e *Engine) Evaluate(identity *providers.Identity) (*ResolvedGrant, error) {
	env := exprEnv{
		Provider:   identity.Provider,
		Subject:    identity.Subject,
		Repository: identity.Repository,
		Attributes: identity.Attributes,
	}

	for _, cr := range e.rules {
		if cr.rule.Provider != "" && cr.rule.Provider != identity.Provider {
			continue
		}
		if !matchAttributes(cr.rule.Match, identity.Attributes) {
			continue
		}
		if cr.program != nil {
			out, err := expr.Run(cr.program, env)
			if err != nil {
				return nil, fmt.Errorf("evaluating rule %q: %w", cr.rule.Name, err)
			}
			if ok, _ := out.(bool); !ok {
				continue
			}
		}

		aud, err := parseAudience(cr.rule.Grant)
		if err != nil {
			return nil, err
		}
		return &ResolvedGrant{
			Rule:     cr.rule.Name,
			User:     cr.rule.Grant.User,
			Audience: aud,
			MaxTTL:   cr.rule.Grant.MaxTTL,
		}, nil
	}

	return nil, fmt.Errorf("%w: no policy rule matched identity %s/%s",
		common.ErrorForbidden, identity.Provider, identity.Subject)
}

func matchAttributes(match map[string]string, attrs map[string]any) bool {
	for key, want := range match {
		got, ok := attrs[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}

func parseAudience(g Grant) (token.Audience, error) {
	aud, err := token.ParseAudience(g.Audience)
	if err != nil {
		return 0, err
	}
	if g.AllowImpersonation {
		aud |= token.AudienceImpersonate
	}
	return aud, nil
}
