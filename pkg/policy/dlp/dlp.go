// Package dlp provides configurable data loss prevention scanning utilities.
package dlp

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultConfig returns a baseline configuration covering common PII classes.
func DefaultConfig() Config {
	return Config{
		Rules: []Rule{
			{
				Name:    "email",
				Pattern: `(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
				Action:  ActionRedact,
			},
			{
				Name:    "ssn",
				Pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`,
				Action:  ActionRedact,
			},
			{
				Name:    "card_number",
				Pattern: `\b(?:[0-9]{4}[ -]?){3}[0-9]{4}\b`,
				Action:  ActionRedact,
			},
		},
	}
}

// NewScanner compiles cfg. Rules are applied in order.
func NewScanner(cfg Config) (*Scanner, error) {
	compiled := make([]compiledRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("dlp: rule name is required")
		}
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("dlp: pattern is required for rule %s", name)
		}
		action := rule.Action
		if action == "" {
			action = ActionRedact
		}
		if !isValidAction(action) {
			return nil, fmt.Errorf("dlp: unsupported action %q for rule %s", action, name)
		}
		expr, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("dlp: invalid pattern for rule %s: %w", name, err)
		}
		replacement := rule.Replacement
		if replacement == "" && action == ActionRedact {
			replacement = fmt.Sprintf("[REDACTED:%s]", name)
		}

		compiled = append(compiled, compiledRule{
			name:        name,
			expr:        expr,
			action:      action,
			replacement: replacement,
		})
	}

	return &Scanner{rules: compiled}, nil
}

// Len reports the number of compiled rules.
func (s *Scanner) Len() int { return len(s.rules) }
