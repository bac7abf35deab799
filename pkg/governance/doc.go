// Package governance guards routes with per-route circuit breakers.
//
// Breakers plug into the dispatcher as a handler adapter, so an open circuit
// fails fast before the handler runs and the failure is recovered like any other
// pipeline error. Rate limiting lives with the request interceptors.
package governance
