package dispatch

import "context"

// HandlerAdapter bridges a handler shape to a uniform Execute call. The dispatcher
// uses the first registered adapter whose Supports returns true.
type HandlerAdapter[I, O any] interface {
	Supports(handler RequestHandler[I, O]) bool
	Execute(ctx context.Context, in I, handler RequestHandler[I, O]) (O, error)
}

// DefaultHandlerAdapter invokes handler.Handle exactly once and returns its result unchanged.
type DefaultHandlerAdapter[I, O any] struct{}

// Supports accepts any non-nil handler.
func (DefaultHandlerAdapter[I, O]) Supports(handler RequestHandler[I, O]) bool {
	return handler != nil
}

// Execute calls handler.Handle(ctx, in).
func (DefaultHandlerAdapter[I, O]) Execute(ctx context.Context, in I, handler RequestHandler[I, O]) (O, error) {
	return handler.Handle(ctx, in)
}

// NewAdapter builds a HandlerAdapter from two functions.
func NewAdapter[I, O any](
	supports func(handler RequestHandler[I, O]) bool,
	execute func(ctx context.Context, in I, handler RequestHandler[I, O]) (O, error),
) HandlerAdapter[I, O] {
	return &funcAdapter[I, O]{supports: supports, execute: execute}
}

type funcAdapter[I, O any] struct {
	supports func(handler RequestHandler[I, O]) bool
	execute  func(ctx context.Context, in I, handler RequestHandler[I, O]) (O, error)
}

func (a *funcAdapter[I, O]) Supports(handler RequestHandler[I, O]) bool {
	return a.supports != nil && a.supports(handler)
}

func (a *funcAdapter[I, O]) Execute(ctx context.Context, in I, handler RequestHandler[I, O]) (O, error) {
	return a.execute(ctx, in, handler)
}
