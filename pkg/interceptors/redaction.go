package interceptors

import (
	"context"
	"fmt"

	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/policy/dlp"
)

// FlagRedacted marks responses whose text was altered by Redaction.
const FlagRedacted = "dlp.redacted"

type textField struct {
	name string
	text *string
}

// Redaction scans the user-facing text of a response and rewrites it in place.
type Redaction struct {
	scanner *dlp.Scanner
}

// NewRedaction wraps scanner.
func NewRedaction(scanner *dlp.Scanner) *Redaction {
	return &Redaction{scanner: scanner}
}

// Process redacts Speech, Reprompt and card content. A block rule match fails with
// dlp.ErrBlocked and leaves the response untouched.
func (r *Redaction) Process(ctx context.Context, _ *domain.HandlerInput, out *domain.Response) error {
	if out == nil {
		return nil
	}

	fields := []textField{
		{"speech", &out.Speech},
		{"reprompt", &out.Reprompt},
	}
	if out.Card != nil {
		fields = append(fields, textField{"card", &out.Card.Content})
	}

	reports := make([]dlp.Report, len(fields))
	for i, field := range fields {
		report, err := r.scanner.Scan(ctx, *field.text)
		if err != nil {
			return err
		}
		if report.Blocked {
			return fmt.Errorf("%w: response %s", dlp.ErrBlocked, field.name)
		}
		reports[i] = report
	}

	for i, field := range fields {
		if reports[i].RedactionsApplied {
			*field.text = reports[i].Redacted
			out.SetFlag(FlagRedacted)
		}
	}
	return nil
}
