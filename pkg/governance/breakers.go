package governance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/polisai/polis-dispatch/pkg/dispatch"
	"github.com/polisai/polis-dispatch/pkg/domain"
)

// Breakers holds one circuit breaker per route. A rule with an empty Route is the
// default for routes without their own rule; without a default, unlisted routes
// are not guarded.
type Breakers struct {
	mu       sync.RWMutex
	rules    map[string]domain.CircuitBreakerRule
	breakers map[string]*CircuitBreaker
	logger   *slog.Logger
	now      func() time.Time
}

// NewBreakers creates a breaker set with the provided rules.
func NewBreakers(rules []domain.CircuitBreakerRule, logger *slog.Logger) *Breakers {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breakers{logger: logger, now: time.Now}
	b.Configure(rules)
	return b
}

// Configure replaces the rules. Breakers whose rule is unchanged keep their state.
func (b *Breakers) Configure(rules []domain.CircuitBreakerRule) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := b.rules
	b.rules = make(map[string]domain.CircuitBreakerRule, len(rules))
	for _, rule := range rules {
		b.rules[rule.Route] = rule
	}

	kept := make(map[string]*CircuitBreaker, len(b.breakers))
	for route, cb := range b.breakers {
		rule, ok := b.ruleLocked(route)
		old, hadOld := ruleFrom(previous, route)
		if ok && hadOld && rule == old {
			kept[route] = cb
		}
	}
	b.breakers = kept
}

// For returns the breaker guarding route, or nil when no rule applies.
func (b *Breakers) For(route string) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[route]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[route]; ok {
		return cb
	}
	rule, ok := b.ruleLocked(route)
	if !ok {
		return nil
	}
	cb = newCircuitBreaker(rule, b.now)
	b.breakers[route] = cb
	return cb
}

// States returns the state of every breaker created so far.
func (b *Breakers) States() map[string]State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]State, len(b.breakers))
	for route, cb := range b.breakers {
		out[route] = cb.State()
	}
	return out
}

func (b *Breakers) ruleLocked(route string) (domain.CircuitBreakerRule, bool) {
	return ruleFrom(b.rules, route)
}

func ruleFrom(rules map[string]domain.CircuitBreakerRule, route string) (domain.CircuitBreakerRule, bool) {
	if rule, ok := rules[route]; ok {
		return rule, true
	}
	rule, ok := rules[""]
	return rule, ok
}

// Adapter returns a handler adapter that runs every handler behind the breaker of
// the route the dispatcher matched. Requests to an open circuit fail with domain.ErrCircuitOpen without
// reaching the handler. Caller cancellation is not counted as a failure.
func (b *Breakers) Adapter() dispatch.HandlerAdapter[*domain.HandlerInput, *domain.Response] {
	return dispatch.NewAdapter(
		func(handler dispatch.RequestHandler[*domain.HandlerInput, *domain.Response]) bool {
			return handler != nil
		},
		b.execute,
	)
}

func (b *Breakers) execute(
	ctx context.Context,
	in *domain.HandlerInput,
	handler dispatch.RequestHandler[*domain.HandlerInput, *domain.Response],
) (*domain.Response, error) {
	// Breakers are keyed on the matched route, never on the caller-supplied name.
	route := dispatch.RouteFromContext(ctx)
	if route == "" {
		return handler.Handle(ctx, in)
	}
	cb := b.For(route)
	if cb == nil {
		return handler.Handle(ctx, in)
	}
	if !cb.Allow() {
		b.logger.WarnContext(ctx, "circuit open", "route", route)
		return nil, domain.NewDomainError(domain.ErrCircuitOpen, domain.CodeCircuitOpen, "route temporarily unavailable").
			WithDetail("route", route)
	}

	// A panicking handler counts as a failure.
	failed := true
	defer func() {
		cb.Done(failed)
		if failed && cb.State() == StateOpen {
			b.logger.WarnContext(ctx, "circuit opened", "route", route)
		}
	}()

	out, err := handler.Handle(ctx, in)
	failed = err != nil && !errors.Is(err, context.Canceled)
	return out, err
}
