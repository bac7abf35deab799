// Package routing resolves the route identifier of a request and provides
// handlers for routes declared in configuration.
package routing
