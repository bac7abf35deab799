package policy

import (
	"context"
	"errors"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow permits the request to proceed.
	ActionAllow Action = "allow"
	// ActionDeny terminates the request.
	ActionDeny Action = "deny"
)

// Decision captures the result from a filter evaluation.
type Decision struct {
	Action   Action
	Reason   string
	Metadata map[string]string
}

// Allowed reports whether the decision permits the request.
func (d Decision) Allowed() bool { return d.Action == ActionAllow }

// Filter evaluates a policy decision for a given input.
type Filter interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (Decision, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, input domain.PolicyInput) (Decision, error)

func (f FilterFunc) Evaluate(ctx context.Context, input domain.PolicyInput) (Decision, error) {
	return f(ctx, input)
}

// Chain composes multiple filters, short-circuiting on the first deny.
type Chain struct {
	filters []Filter
}

// NewChain constructs a filter chain.
func NewChain(filters ...Filter) Chain {
	return Chain{filters: append([]Filter(nil), filters...)}
}

// Evaluate executes the chain until a terminal decision is produced.
func (c Chain) Evaluate(ctx context.Context, input domain.PolicyInput) (Decision, error) {
	for _, filter := range c.filters {
		decision, err := filter.Evaluate(ctx, input)
		if err != nil {
			return Decision{}, err
		}
		if decision.Metadata == nil {
			decision.Metadata = map[string]string{}
		}
		switch decision.Action {
		case ActionAllow:
			// continue evaluating subsequent filters
		case ActionDeny:
			return decision, nil
		default:
			return Decision{}, errors.New("unknown policy action")
		}
	}

	return Decision{Action: ActionAllow, Metadata: map[string]string{}}, nil
}
