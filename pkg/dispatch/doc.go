// Package dispatch routes one inbound request to exactly one handler and runs it
// inside an ordered, two-tier interceptor pipeline.
//
// A Dispatcher is built from an immutable Configuration, normally assembled with a
// ConfigurationBuilder:
//
//	b := dispatch.NewConfigurationBuilder[*domain.HandlerInput, *domain.Response](resolver.Name)
//	b.AddNamedHandler("HelloIntent", hello).
//		AddRequestInterceptors(validation).
//		AddResponseInterceptors(usage).
//		AddErrorHandler(dispatch.MatchErrorIs[*domain.HandlerInput](dispatch.ErrNoHandlerFound), fallback)
//	cfg, err := b.Build()
//	d, err := dispatch.NewDispatcher(cfg, dispatch.WithLogger(logger))
//
// For every call to Dispatch the pipeline runs strictly in sequence:
//
//	global request interceptors -> routing -> adapter selection ->
//	local request interceptors -> handler -> local response interceptors ->
//	global response interceptors
//
// Routing is first-match over handler chains in registration order. Any failure,
// including ErrNoHandlerFound and ErrNoAdapterFound, is offered once to the
// configured error handlers (again first-match). When none accepts, the original
// error value is returned unchanged.
//
// The input and output values are shared by reference across every stage. Stages
// never run concurrently for the same request, so a stage may freely mutate what
// an earlier stage produced; response interceptors mutate the output in place and
// their return values are never merged. The Dispatcher itself keeps no
// per-request state and may be used from many goroutines once built.
//
// There is no built-in timeout: cancellation and deadlines belong to the caller's
// context.
package dispatch
