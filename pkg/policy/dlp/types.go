package dlp

import (
	"errors"
	"regexp"
)

// Action describes the directive associated with a DLP rule.
type Action string

const (
	// ActionAllow records findings without altering content.
	ActionAllow Action = "allow"
	// ActionRedact masks matches before the content leaves the host.
	ActionRedact Action = "redact"
	// ActionBlock rejects content containing a match.
	ActionBlock Action = "block"
)

// Rule declares a DLP detection rule.
type Rule struct {
	Name        string `yaml:"name" json:"name"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Action      Action `yaml:"action" json:"action"`
	Replacement string `yaml:"replacement,omitempty" json:"replacement,omitempty"`
}

// Config bundles all rule definitions for a Scanner.
type Config struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Finding captures a single DLP match.
type Finding struct {
	Rule   string
	Start  int
	End    int
	Action Action
}

// Report summarises the outcome of a scan operation.
type Report struct {
	Findings          []Finding
	Redacted          string
	RedactionsApplied bool
	Blocked           bool
}

// Scanner applies DLP rules to textual content. It is safe for concurrent use.
type Scanner struct {
	rules []compiledRule
}

// ErrBlocked indicates that a block rule matched.
var ErrBlocked = errors.New("dlp: content blocked by policy")

type compiledRule struct {
	name        string
	expr        *regexp.Regexp
	action      Action
	replacement string
}

func isValidAction(action Action) bool {
	switch action {
	case ActionAllow, ActionRedact, ActionBlock:
		return true
	default:
		return false
	}
}
