package classifier

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Match mode constants
const (
	MatchSubstring = "substring"
	MatchRegex     = "regex"
)

// ErrInvalidRuleSet wraps every rule-set validation failure.
var ErrInvalidRuleSet = errors.New("invalid rule set")

// Rule is one pattern tagged safe or unsafe. Rules are data: they are loaded
// from YAML and never hardcoded into branching logic.
type Rule struct {
	ID      string  `yaml:"id"`
	Verdict Verdict `yaml:"verdict"` // safe | unsafe
	Pattern string  `yaml:"pattern"`
	Match   string  `yaml:"match,omitempty"` // substring (default) | regex
	Enabled *bool   `yaml:"enabled,omitempty"`
}

// RuleSet is the externally configured classifier input. Markers identify
// text that looks like an assistant dialog even when no rule matches.
type RuleSet struct {
	Rules   []Rule   `yaml:"rules"`
	Markers []string `yaml:"markers"`
}

type compiledRule struct {
	id      string
	verdict Verdict
	needle  string
	re      *regexp.Regexp
}

func (r compiledRule) matches(normalized string) bool {
	if r.re != nil {
		return r.re.MatchString(normalized)
	}
	return strings.Contains(normalized, r.needle)
}

// compiled holds rules split by verdict; unsafe always evaluates first.
type compiled struct {
	unsafe  []compiledRule
	safe    []compiledRule
	markers []string
}

// Validate reports whether rs would be accepted by New or Reload.
func Validate(rs RuleSet) error {
	_, err := compile(rs)
	return err
}

// compile validates a rule set and prepares it for evaluation. Configured
// order is kept within each verdict group.
func compile(rs RuleSet) (*compiled, error) {
	c := &compiled{}
	seen := make(map[string]bool, len(rs.Rules))

	for i, rule := range rs.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("%w: rule #%d has no id", ErrInvalidRuleSet, i+1)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRuleSet, rule.ID)
		}
		seen[rule.ID] = true

		if rule.Enabled != nil && !*rule.Enabled {
			continue
		}
		pattern := Normalize(rule.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("%w: rule %q has an empty pattern", ErrInvalidRuleSet, rule.ID)
		}

		cr := compiledRule{id: rule.ID, verdict: rule.Verdict}
		switch rule.Match {
		case "", MatchSubstring:
			cr.needle = pattern
		case MatchRegex:
			re, err := regexp.Compile("(?i)" + strings.TrimSpace(rule.Pattern))
			if err != nil {
				return nil, fmt.Errorf("%w: rule %q: %v", ErrInvalidRuleSet, rule.ID, err)
			}
			cr.re = re
		default:
			return nil, fmt.Errorf("%w: rule %q: unknown match mode %q", ErrInvalidRuleSet, rule.ID, rule.Match)
		}

		switch rule.Verdict {
		case VerdictUnsafe:
			c.unsafe = append(c.unsafe, cr)
		case VerdictSafe:
			c.safe = append(c.safe, cr)
		default:
			return nil, fmt.Errorf("%w: rule %q: verdict must be safe or unsafe, got %q", ErrInvalidRuleSet, rule.ID, rule.Verdict)
		}
	}

	for _, m := range rs.Markers {
		if n := Normalize(m); n != "" {
			c.markers = append(c.markers, n)
		}
	}
	return c, nil
}

// LoadRuleSet reads a YAML rule-set file.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rule set: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rule set: %w", err)
	}
	return rs, nil
}

// DefaultRuleSet returns the built-in rules for the Copilot confirmation
// prompts seen in VS Code. Deployments are expected to override it.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Rules: []Rule{
			{ID: "outside-workspace", Verdict: VerdictUnsafe, Pattern: `outside\s+(the\s+|this\s+)?workspace`, Match: MatchRegex},
			{ID: "delete", Verdict: VerdictUnsafe, Pattern: `\b(delete|remove|erase)\b`, Match: MatchRegex},
			{ID: "force-push", Verdict: VerdictUnsafe, Pattern: `push\s+(-f|--force)`, Match: MatchRegex},
			{ID: "credentials", Verdict: VerdictUnsafe, Pattern: `\b(password|token|credential|secret)s?\b`, Match: MatchRegex},
			{ID: "sudo", Verdict: VerdictUnsafe, Pattern: `\bsudo\b`, Match: MatchRegex},
			{ID: "run-command", Verdict: VerdictSafe, Pattern: "allow copilot to run this command"},
			{ID: "copilot-wants-to", Verdict: VerdictSafe, Pattern: "copilot wants to"},
			{ID: "allow-access", Verdict: VerdictSafe, Pattern: "allow access"},
			{ID: "continue-iterating", Verdict: VerdictSafe, Pattern: "continue to iterate"},
		},
		Markers: []string{
			"GitHub Copilot",
			"Allow Copilot",
			"Copilot wants to",
			"Permission",
			"Allow access",
			"Confirm",
			"Continue?",
		},
	}
}

// Normalize lowercases text and collapses runs of whitespace, so titles that
// differ only in spacing or case compare equal.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
