package dispatch

import "context"

// RequestMapper finds the chain for a request. A nil chain with a nil error means
// no chain accepted the request.
type RequestMapper[I, O any] interface {
	Match(ctx context.Context, in I) (*HandlerChain[I, O], error)
}

// ErrorMapper finds the error handler for a failure. A nil handler with a nil error
// means no handler accepted the failure.
type ErrorMapper[I, O any] interface {
	Match(ctx context.Context, in I, err error) (ErrorHandler[I, O], error)
}

// ChainMapper is the first-match RequestMapper over an ordered list of chains.
type ChainMapper[I, O any] struct {
	chains []*HandlerChain[I, O]
}

// NewChainMapper keeps chains in the given order.
func NewChainMapper[I, O any](chains ...*HandlerChain[I, O]) *ChainMapper[I, O] {
	return &ChainMapper[I, O]{chains: append([]*HandlerChain[I, O](nil), chains...)}
}

// Match returns the first chain whose handler accepts in. Later chains are not
// evaluated once one accepts. A predicate error stops matching and is returned as-is.
func (m *ChainMapper[I, O]) Match(ctx context.Context, in I) (*HandlerChain[I, O], error) {
	for _, chain := range m.chains {
		ok, err := chain.handler.CanHandle(ctx, in)
		if err != nil {
			return nil, err
		}
		if ok {
			return chain, nil
		}
	}
	return nil, nil
}

// Chains returns the chains in registration order.
func (m *ChainMapper[I, O]) Chains() []*HandlerChain[I, O] {
	return append([]*HandlerChain[I, O](nil), m.chains...)
}

// ErrorHandlerMapper is the first-match ErrorMapper over an ordered list of error handlers.
type ErrorHandlerMapper[I, O any] struct {
	handlers []ErrorHandler[I, O]
}

// NewErrorMapper keeps handlers in the given order.
func NewErrorMapper[I, O any](handlers ...ErrorHandler[I, O]) *ErrorHandlerMapper[I, O] {
	return &ErrorHandlerMapper[I, O]{handlers: append([]ErrorHandler[I, O](nil), handlers...)}
}

// Match returns the first handler accepting (in, err). Handlers after it are never consulted.
func (m *ErrorHandlerMapper[I, O]) Match(ctx context.Context, in I, err error) (ErrorHandler[I, O], error) {
	for _, handler := range m.handlers {
		ok, matchErr := handler.CanHandle(ctx, in, err)
		if matchErr != nil {
			return nil, matchErr
		}
		if ok {
			return handler, nil
		}
	}
	return nil, nil
}

// Len reports how many error handlers are registered.
func (m *ErrorHandlerMapper[I, O]) Len() int { return len(m.handlers) }

// handlerName returns the RouteNamer label, or "" for handlers without one.
func handlerName(handler any) string {
	if named, ok := handler.(RouteNamer); ok {
		return named.RouteName()
	}
	return ""
}
