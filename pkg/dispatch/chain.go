package dispatch

// ChainConfig describes a HandlerChain.
type ChainConfig[I, O any] struct {
	// Name labels the route in logs, traces and listings. Optional.
	Name                 string
	Handler              RequestHandler[I, O]
	RequestInterceptors  []RequestInterceptor[I]
	ResponseInterceptors []ResponseInterceptor[I, O]
}

// HandlerChain binds one handler to its route-local interceptors.
type HandlerChain[I, O any] struct {
	name                 string
	handler              RequestHandler[I, O]
	requestInterceptors  []RequestInterceptor[I]
	responseInterceptors []ResponseInterceptor[I, O]
}

// NewHandlerChain copies cfg into an immutable chain.
func NewHandlerChain[I, O any](cfg ChainConfig[I, O]) *HandlerChain[I, O] {
	name := cfg.Name
	if name == "" {
		name = handlerName(cfg.Handler)
	}
	return &HandlerChain[I, O]{
		name:                 name,
		handler:              cfg.Handler,
		requestInterceptors:  append([]RequestInterceptor[I](nil), cfg.RequestInterceptors...),
		responseInterceptors: append([]ResponseInterceptor[I, O](nil), cfg.ResponseInterceptors...),
	}
}

// Name returns the route label.
func (c *HandlerChain[I, O]) Name() string { return c.name }

// Handler returns the chain's handler.
func (c *HandlerChain[I, O]) Handler() RequestHandler[I, O] { return c.handler }

// RequestInterceptors returns a copy of the local request interceptors.
func (c *HandlerChain[I, O]) RequestInterceptors() []RequestInterceptor[I] {
	return append([]RequestInterceptor[I](nil), c.requestInterceptors...)
}

// ResponseInterceptors returns a copy of the local response interceptors.
func (c *HandlerChain[I, O]) ResponseInterceptors() []ResponseInterceptor[I, O] {
	return append([]ResponseInterceptor[I, O](nil), c.responseInterceptors...)
}
