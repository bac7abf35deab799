package dispatch

// ConfigurationParams lists the parts of a Configuration assembled by hand.
type ConfigurationParams[I, O any] struct {
	Mappers                    []RequestMapper[I, O]
	Adapters                   []HandlerAdapter[I, O]
	ErrorMapper                ErrorMapper[I, O]
	GlobalRequestInterceptors  []RequestInterceptor[I]
	GlobalResponseInterceptors []ResponseInterceptor[I, O]
}

// Configuration is the immutable input of a Dispatcher.
type Configuration[I, O any] struct {
	mappers                    []RequestMapper[I, O]
	adapters                   []HandlerAdapter[I, O]
	errorMapper                ErrorMapper[I, O]
	globalRequestInterceptors  []RequestInterceptor[I]
	globalResponseInterceptors []ResponseInterceptor[I, O]
}

// NewConfiguration copies p. Use it to compose several independently built mappers;
// ConfigurationBuilder covers the common case.
func NewConfiguration[I, O any](p ConfigurationParams[I, O]) *Configuration[I, O] {
	return &Configuration[I, O]{
		mappers:                    append([]RequestMapper[I, O](nil), p.Mappers...),
		adapters:                   append([]HandlerAdapter[I, O](nil), p.Adapters...),
		errorMapper:                p.ErrorMapper,
		globalRequestInterceptors:  append([]RequestInterceptor[I](nil), p.GlobalRequestInterceptors...),
		globalResponseInterceptors: append([]ResponseInterceptor[I, O](nil), p.GlobalResponseInterceptors...),
	}
}

// Mappers returns the request mappers in query order.
func (c *Configuration[I, O]) Mappers() []RequestMapper[I, O] {
	return append([]RequestMapper[I, O](nil), c.mappers...)
}

// Adapters returns the handler adapters in selection order.
func (c *Configuration[I, O]) Adapters() []HandlerAdapter[I, O] {
	return append([]HandlerAdapter[I, O](nil), c.adapters...)
}

// ErrorMapper returns the error mapper, or nil when no recovery is configured.
func (c *Configuration[I, O]) ErrorMapper() ErrorMapper[I, O] { return c.errorMapper }

// GlobalRequestInterceptors returns the global request interceptors in run order.
func (c *Configuration[I, O]) GlobalRequestInterceptors() []RequestInterceptor[I] {
	return append([]RequestInterceptor[I](nil), c.globalRequestInterceptors...)
}

// GlobalResponseInterceptors returns the global response interceptors in run order.
func (c *Configuration[I, O]) GlobalResponseInterceptors() []ResponseInterceptor[I, O] {
	return append([]ResponseInterceptor[I, O](nil), c.globalResponseInterceptors...)
}

// Routes lists route names in the order routing would consider them. Mappers that
// do not expose their chains are skipped.
func (c *Configuration[I, O]) Routes() []string {
	var routes []string
	for _, mapper := range c.mappers {
		cm, ok := mapper.(*ChainMapper[I, O])
		if !ok {
			continue
		}
		for _, chain := range cm.chains {
			routes = append(routes, chain.name)
		}
	}
	return routes
}
