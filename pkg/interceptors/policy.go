package interceptors

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/policy"
	"github.com/polisai/polis-dispatch/pkg/telemetry"
)

// Policy enforces a policy decision before routing continues.
type Policy struct {
	filter   policy.Filter
	failOpen bool
	logger   *slog.Logger
}

// NewPolicy wraps filter. With failOpen, evaluation errors are logged and the
// request proceeds; otherwise they fail the request with domain.ErrPolicyEvalFailed.
func NewPolicy(filter policy.Filter, failOpen bool, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{filter: filter, failOpen: failOpen, logger: logger}
}

func (p *Policy) Process(ctx context.Context, in *domain.HandlerInput) error {
	input := domain.NewPolicyInput(in)
	decision, err := p.filter.Evaluate(ctx, input)
	if err != nil {
		if p.failOpen {
			p.logger.WarnContext(ctx, "policy evaluation failed, allowing request",
				"route", input.Name,
				"request_id", in.RequestID(),
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("%w: %w", domain.ErrPolicyEvalFailed, err)
	}

	telemetry.RecordPolicyDecision(trace.SpanFromContext(ctx), telemetry.PolicyDecision{
		Allowed: decision.Allowed(),
		Route:   input.Name,
		Reason:  decision.Reason,
	})
	if decision.Allowed() {
		return nil
	}

	denied := domain.NewDomainError(domain.ErrPolicyDenied, domain.CodePolicyDenied, decision.Reason).
		WithDetail("route", input.Name)
	for key, value := range decision.Metadata {
		denied.WithDetail(key, value)
	}
	return denied
}
