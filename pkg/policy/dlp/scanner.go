package dlp

import (
	"context"
	"sort"
)

// Scan applies all configured rules to text. Finding offsets refer to the original
// text.
func (s *Scanner) Scan(ctx context.Context, text string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if len(s.rules) == 0 || text == "" {
		return Report{Redacted: text}, nil
	}

	redacted := text
	var findings []Finding
	blocked := false

	for _, rule := range s.rules {
		for _, match := range rule.expr.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{Rule: rule.name, Start: match[0], End: match[1], Action: rule.action})
			if rule.action == ActionBlock {
				blocked = true
			}
		}
		if rule.action == ActionRedact {
			redacted = rule.expr.ReplaceAllLiteralString(redacted, rule.replacement)
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Start == findings[j].Start {
			return findings[i].End < findings[j].End
		}
		return findings[i].Start < findings[j].Start
	})

	return Report{
		Findings:          findings,
		Redacted:          redacted,
		RedactionsApplied: redacted != text,
		Blocked:           blocked,
	}, nil
}
