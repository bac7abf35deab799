// Package policy integrates the Open Policy Agent (OPA) engine with the dispatch
// host, evaluating Rego policies against every request before it reaches a handler.
//
// Rego modules are parsed once; prepared queries are compiled lazily per
// entrypoint and cached, and decisions for identical inputs are served from a
// bounded LRU cache. The package is decoupled from HTTP concerns so policies can be
// tested and hot-reloaded independently of the transport.
package policy
