package dispatch

import "context"

// RequestHandler is a unit of work selected by predicate and invoked to produce an output.
type RequestHandler[I, O any] interface {
	CanHandle(ctx context.Context, in I) (bool, error)
	Handle(ctx context.Context, in I) (O, error)
}

// ErrorHandler recovers from a failure raised anywhere in the dispatch pipeline.
type ErrorHandler[I, O any] interface {
	CanHandle(ctx context.Context, in I, err error) (bool, error)
	Handle(ctx context.Context, in I, err error) (O, error)
}

// RequestInterceptor runs before routing (global) or before the handler (local).
type RequestInterceptor[I any] interface {
	Process(ctx context.Context, in I) error
}

// ResponseInterceptor runs after the handler and may mutate out in place.
type ResponseInterceptor[I, O any] interface {
	Process(ctx context.Context, in I, out O) error
}

// Predicate decides whether a handler accepts a request.
type Predicate[I any] func(ctx context.Context, in I) (bool, error)

// ErrorPredicate decides whether an error handler accepts a failure.
type ErrorPredicate[I any] func(ctx context.Context, in I, err error) (bool, error)

// HandlerFunc is the executor half of a (matcher, executor) route.
type HandlerFunc[I, O any] func(ctx context.Context, in I) (O, error)

// ErrorHandlerFunc is the executor half of a (matcher, executor) recovery route.
type ErrorHandlerFunc[I, O any] func(ctx context.Context, in I, err error) (O, error)

// RequestInterceptorFunc adapts a plain function to RequestInterceptor.
type RequestInterceptorFunc[I any] func(ctx context.Context, in I) error

// Process calls f(ctx, in).
func (f RequestInterceptorFunc[I]) Process(ctx context.Context, in I) error {
	return f(ctx, in)
}

// ResponseInterceptorFunc adapts a plain function to ResponseInterceptor.
type ResponseInterceptorFunc[I, O any] func(ctx context.Context, in I, out O) error

// Process calls f(ctx, in, out).
func (f ResponseInterceptorFunc[I, O]) Process(ctx context.Context, in I, out O) error {
	return f(ctx, in, out)
}

// NewRequestHandler pairs a predicate with an executor.
func NewRequestHandler[I, O any](predicate Predicate[I], executor HandlerFunc[I, O]) RequestHandler[I, O] {
	return &predicateHandler[I, O]{predicate: predicate, executor: executor}
}

type predicateHandler[I, O any] struct {
	predicate Predicate[I]
	executor  HandlerFunc[I, O]
}

func (h *predicateHandler[I, O]) CanHandle(ctx context.Context, in I) (bool, error) {
	return h.predicate(ctx, in)
}

func (h *predicateHandler[I, O]) Handle(ctx context.Context, in I) (O, error) {
	return h.executor(ctx, in)
}

// NewErrorHandler pairs an error predicate with an error executor.
func NewErrorHandler[I, O any](predicate ErrorPredicate[I], executor ErrorHandlerFunc[I, O]) ErrorHandler[I, O] {
	return &predicateErrorHandler[I, O]{predicate: predicate, executor: executor}
}

type predicateErrorHandler[I, O any] struct {
	predicate ErrorPredicate[I]
	executor  ErrorHandlerFunc[I, O]
}

func (h *predicateErrorHandler[I, O]) CanHandle(ctx context.Context, in I, err error) (bool, error) {
	return h.predicate(ctx, in, err)
}

func (h *predicateErrorHandler[I, O]) Handle(ctx context.Context, in I, err error) (O, error) {
	return h.executor(ctx, in, err)
}

// RouteNamer is implemented by handlers that want a stable name in logs, traces,
// metrics and route listings.
type RouteNamer interface {
	RouteName() string
}
