package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// ConfigurationBuilder accumulates routes, interceptors and recovery routes and
// produces an immutable Configuration. Registration defects are collected and
// reported by Build, so calls can be chained without checking errors.
//
// A builder is not safe for concurrent use.
type ConfigurationBuilder[I, O any] struct {
	resolveName          NameResolver[I]
	chains               []*HandlerChain[I, O]
	adapters             []HandlerAdapter[I, O]
	requestInterceptors  []RequestInterceptor[I]
	responseInterceptors []ResponseInterceptor[I, O]
	errorHandlers        []ErrorHandler[I, O]
	errs                 []error
}

// NewConfigurationBuilder returns an empty builder. resolveName backs MatchName
// matchers and may be nil when only predicates are used.
func NewConfigurationBuilder[I, O any](resolveName NameResolver[I]) *ConfigurationBuilder[I, O] {
	return &ConfigurationBuilder[I, O]{resolveName: resolveName}
}

// AddHandler registers a (matcher, executor) route.
func (b *ConfigurationBuilder[I, O]) AddHandler(matcher Matcher[I], executor HandlerFunc[I, O]) *ConfigurationBuilder[I, O] {
	position := len(b.chains)
	predicate, err := matcher.compile(b.resolveName)
	if err != nil {
		b.fail(fmt.Errorf("route %d: %w", position, err))
		return b
	}
	if executor == nil {
		b.fail(fmt.Errorf("route %d: executor is nil", position))
		return b
	}

	name, ok := matcher.Identifier()
	if !ok {
		name = positionalName(position)
	}
	b.chains = append(b.chains, NewHandlerChain(ChainConfig[I, O]{
		Name:    name,
		Handler: NewRequestHandler(predicate, executor),
	}))
	return b
}

// AddNamedHandler registers a route matching requests whose resolved name equals name.
func (b *ConfigurationBuilder[I, O]) AddNamedHandler(name string, executor HandlerFunc[I, O]) *ConfigurationBuilder[I, O] {
	return b.AddHandler(MatchName[I](name), executor)
}

// AddHandlers registers pre-built handlers, each as a chain without local interceptors.
func (b *ConfigurationBuilder[I, O]) AddHandlers(handlers ...RequestHandler[I, O]) *ConfigurationBuilder[I, O] {
	for _, handler := range handlers {
		if handler == nil {
			b.fail(fmt.Errorf("route %d: handler is nil", len(b.chains)))
			continue
		}
		name := handlerName(handler)
		if name == "" {
			name = positionalName(len(b.chains))
		}
		b.chains = append(b.chains, NewHandlerChain(ChainConfig[I, O]{Name: name, Handler: handler}))
	}
	return b
}

// AddChains registers chains carrying route-local interceptors.
func (b *ConfigurationBuilder[I, O]) AddChains(chains ...*HandlerChain[I, O]) *ConfigurationBuilder[I, O] {
	for _, chain := range chains {
		switch {
		case chain == nil:
			b.fail(fmt.Errorf("route %d: chain is nil", len(b.chains)))
			continue
		case chain.handler == nil:
			b.fail(fmt.Errorf("route %d (%s): chain has no handler", len(b.chains), chain.name))
			continue
		}
		if chain.name == "" {
			named := *chain
			named.name = positionalName(len(b.chains))
			chain = &named
		}
		b.chains = append(b.chains, chain)
	}
	return b
}

// positionalName labels an unnamed route by its registration order.
func positionalName(position int) string {
	return fmt.Sprintf("route-%d", position)
}

// AddRequestInterceptors registers global request interceptors.
func (b *ConfigurationBuilder[I, O]) AddRequestInterceptors(interceptors ...RequestInterceptor[I]) *ConfigurationBuilder[I, O] {
	for _, interceptor := range interceptors {
		if interceptor == nil {
			b.fail(errors.New("request interceptor is nil"))
			continue
		}
		b.requestInterceptors = append(b.requestInterceptors, interceptor)
	}
	return b
}

// AddRequestInterceptorFuncs registers plain functions as global request interceptors.
func (b *ConfigurationBuilder[I, O]) AddRequestInterceptorFuncs(fns ...func(ctx context.Context, in I) error) *ConfigurationBuilder[I, O] {
	for _, fn := range fns {
		if fn == nil {
			b.fail(errors.New("request interceptor func is nil"))
			continue
		}
		b.requestInterceptors = append(b.requestInterceptors, RequestInterceptorFunc[I](fn))
	}
	return b
}

// AddResponseInterceptors registers global response interceptors.
func (b *ConfigurationBuilder[I, O]) AddResponseInterceptors(interceptors ...ResponseInterceptor[I, O]) *ConfigurationBuilder[I, O] {
	for _, interceptor := range interceptors {
		if interceptor == nil {
			b.fail(errors.New("response interceptor is nil"))
			continue
		}
		b.responseInterceptors = append(b.responseInterceptors, interceptor)
	}
	return b
}

// AddResponseInterceptorFuncs registers plain functions as global response interceptors.
func (b *ConfigurationBuilder[I, O]) AddResponseInterceptorFuncs(fns ...func(ctx context.Context, in I, out O) error) *ConfigurationBuilder[I, O] {
	for _, fn := range fns {
		if fn == nil {
			b.fail(errors.New("response interceptor func is nil"))
			continue
		}
		b.responseInterceptors = append(b.responseInterceptors, ResponseInterceptorFunc[I, O](fn))
	}
	return b
}

// AddErrorHandler registers a (matcher, executor) recovery route.
func (b *ConfigurationBuilder[I, O]) AddErrorHandler(matcher ErrorMatcher[I], executor ErrorHandlerFunc[I, O]) *ConfigurationBuilder[I, O] {
	position := len(b.errorHandlers)
	predicate, err := matcher.compile()
	if err != nil {
		b.fail(fmt.Errorf("error handler %d: %w", position, err))
		return b
	}
	if executor == nil {
		b.fail(fmt.Errorf("error handler %d: executor is nil", position))
		return b
	}
	b.errorHandlers = append(b.errorHandlers, NewErrorHandler(predicate, executor))
	return b
}

// AddErrorHandlers registers pre-built error handlers.
func (b *ConfigurationBuilder[I, O]) AddErrorHandlers(handlers ...ErrorHandler[I, O]) *ConfigurationBuilder[I, O] {
	for _, handler := range handlers {
		if handler == nil {
			b.fail(fmt.Errorf("error handler %d: handler is nil", len(b.errorHandlers)))
			continue
		}
		b.errorHandlers = append(b.errorHandlers, handler)
	}
	return b
}

// AddAdapters registers adapters that are tried before the default adapter.
func (b *ConfigurationBuilder[I, O]) AddAdapters(adapters ...HandlerAdapter[I, O]) *ConfigurationBuilder[I, O] {
	for _, adapter := range adapters {
		if adapter == nil {
			b.fail(errors.New("adapter is nil"))
			continue
		}
		b.adapters = append(b.adapters, adapter)
	}
	return b
}

// Build produces a Configuration with one ChainMapper over every registered chain,
// the registered adapters followed by DefaultHandlerAdapter, and an ErrorMapper only
// when at least one error handler was registered.
func (b *ConfigurationBuilder[I, O]) Build() (*Configuration[I, O], error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(b.errs...))
	}

	adapters := append([]HandlerAdapter[I, O](nil), b.adapters...)
	adapters = append(adapters, DefaultHandlerAdapter[I, O]{})

	params := ConfigurationParams[I, O]{
		Mappers:                    []RequestMapper[I, O]{NewChainMapper(b.chains...)},
		Adapters:                   adapters,
		GlobalRequestInterceptors:  b.requestInterceptors,
		GlobalResponseInterceptors: b.responseInterceptors,
	}
	if len(b.errorHandlers) > 0 {
		params.ErrorMapper = NewErrorMapper(b.errorHandlers...)
	}
	return NewConfiguration(params), nil
}

func (b *ConfigurationBuilder[I, O]) fail(err error) {
	b.errs = append(b.errs, err)
}
