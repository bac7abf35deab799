// Package domain defines the request and response model of the dispatch host.
//
// An inbound Envelope is wrapped in a HandlerInput, which is the value that flows
// through the dispatch pipeline. Interceptors and handlers read and annotate the
// input in place; handlers produce a Response, usually through the input's
// ResponseBuilder.
//
// The package depends only on the standard library. Transport, persistence and
// policy packages depend on it, never the other way round.
package domain
