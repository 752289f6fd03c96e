package pdp

import (
	"fmt"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/gate/pkg/canonicalize"
)

// DefaultPolicyVersion is the version reported by the built-in policy.
const DefaultPolicyVersion = "1.0.0"

// PolicyConfig holds the tunable values the built-in rules are evaluated against.
//
// The suspicious pattern list is a heuristic for prompt injection. It is meant to
// be replaced per deployment and is matched after Unicode case folding.
type PolicyConfig struct {
	Version                   string             `yaml:"version" json:"version"`
	AgentLimits               map[string]float64 `yaml:"agent_limits" json:"agent_limits"`
	KnownRecipients           []string           `yaml:"known_recipients" json:"known_recipients"`
	SuspiciousPatterns        []string           `yaml:"suspicious_patterns" json:"suspicious_patterns"`
	InjectionAmountThreshold  *float64           `yaml:"injection_amount_threshold,omitempty" json:"injection_amount_threshold"`
	UnverifiedAmountThreshold *float64           `yaml:"unverified_amount_threshold,omitempty" json:"unverified_amount_threshold"`
}

// DefaultPolicy returns the reference policy values.
func DefaultPolicy() *PolicyConfig {
	return &PolicyConfig{
		Version: DefaultPolicyVersion,
		AgentLimits: map[string]float64{
			"PURCHASING": 200,
			"TREASURY":   10000,
			"OPERATIONS": 500,
		},
		KnownRecipients: []string{
			"Office Supplies Co",
			"TechVendor Inc",
			"Cloud Services Ltd",
			"Marketing Agency Co",
		},
		SuspiciousPatterns: []string{
			"ignore previous",
			"override",
			"bypass",
			"new instructions",
			"wallet",
			"urgent transfer",
		},
		InjectionAmountThreshold:  float64Ptr(1000),
		UnverifiedAmountThreshold: float64Ptr(100),
	}
}

func float64Ptr(v float64) *float64 { return &v }

// LoadPolicyFile reads a YAML policy file. Fields absent from the file keep
// their reference defaults.
func LoadPolicyFile(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("pdp: read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes YAML policy data over the reference defaults.
func ParsePolicy(data []byte) (*PolicyConfig, error) {
	var file PolicyConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("pdp: parse policy: %w", err)
	}

	p := DefaultPolicy()
	if file.Version != "" {
		p.Version = file.Version
	}
	if file.AgentLimits != nil {
		p.AgentLimits = file.AgentLimits
	}
	if file.KnownRecipients != nil {
		p.KnownRecipients = file.KnownRecipients
	}
	if file.SuspiciousPatterns != nil {
		p.SuspiciousPatterns = file.SuspiciousPatterns
	}
	if file.InjectionAmountThreshold != nil {
		p.InjectionAmountThreshold = file.InjectionAmountThreshold
	}
	if file.UnverifiedAmountThreshold != nil {
		p.UnverifiedAmountThreshold = file.UnverifiedAmountThreshold
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the policy for values the rules cannot be evaluated against.
func (p *PolicyConfig) Validate() error {
	if _, err := semver.StrictNewVersion(p.Version); err != nil {
		return fmt.Errorf("pdp: policy version %q is not semver: %w", p.Version, err)
	}
	for agent, limit := range p.AgentLimits {
		if agent == "" {
			return fmt.Errorf("pdp: agent_limits has an empty agent type")
		}
		if agent == "UNKNOWN" {
			return fmt.Errorf("pdp: agent_limits may not grant a limit to UNKNOWN")
		}
		if limit < 0 {
			return fmt.Errorf("pdp: agent_limits[%s] is negative", agent)
		}
	}
	if p.InjectionAmountThreshold == nil || p.UnverifiedAmountThreshold == nil {
		return fmt.Errorf("pdp: amount thresholds are required")
	}
	for _, pat := range p.SuspiciousPatterns {
		if fold(pat) == "" {
			return fmt.Errorf("pdp: suspicious_patterns contains an empty pattern")
		}
	}
	return nil
}

// Hash returns a content-addressed hash of the policy for receipt binding.
func (p *PolicyConfig) Hash() (string, error) {
	h, err := canonicalize.CanonicalHash(p)
	if err != nil {
		return "", fmt.Errorf("pdp: policy hash: %w", err)
	}
	return "sha256:" + h, nil
}

// activation renders the policy as CEL input. Patterns are folded once here so
// the per-request cost is a single fold of the reasoning text.
func (p *PolicyConfig) activation() map[string]any {
	limits := make(map[string]any, len(p.AgentLimits))
	for k, v := range p.AgentLimits {
		limits[k] = v
	}

	recipients := make([]any, len(p.KnownRecipients))
	for i, r := range p.KnownRecipients {
		recipients[i] = r
	}

	folded := make([]string, 0, len(p.SuspiciousPatterns))
	for _, pat := range p.SuspiciousPatterns {
		folded = append(folded, fold(pat))
	}
	sort.Strings(folded)
	patterns := make([]any, len(folded))
	for i, f := range folded {
		patterns[i] = f
	}

	return map[string]any{
		"agent_limits":                limits,
		"known_recipients":            recipients,
		"suspicious_patterns":         patterns,
		"injection_amount_threshold":  *p.InjectionAmountThreshold,
		"unverified_amount_threshold": *p.UnverifiedAmountThreshold,
	}
}

// limitFor returns the spending ceiling for an agent type; unlisted types get zero.
func (p *PolicyConfig) limitFor(agentType string) float64 {
	return p.AgentLimits[agentType]
}
