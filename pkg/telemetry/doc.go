// Package telemetry wires OpenTelemetry exporters and meters for the dispatch
// service.
//
// It centralises trace provider setup, records dispatch outcome metrics, and
// offers enrichment helpers that attach request, route and policy metadata to
// spans so operators can correlate routing and recovery decisions with upstream
// behaviour.
package telemetry
