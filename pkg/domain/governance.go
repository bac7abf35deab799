package domain

import "time"

// RateLimitRule bounds how often a route may be dispatched. An empty Route applies
// to every route without a rule of its own.
type RateLimitRule struct {
	Route             string  `json:"route,omitempty" yaml:"route,omitempty"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `json:"burst" yaml:"burst" validate:"gte=1"`
	// Scope selects the bucket key: "route" (default), "session" or "user".
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty" validate:"omitempty,oneof=route session user"`
}

// CircuitBreakerRule opens a route's circuit after repeated handler failures.
// An empty Route applies to every route without a rule of its own.
type CircuitBreakerRule struct {
	Route string `json:"route,omitempty" yaml:"route,omitempty"`
	// MaxFailures is the consecutive failure threshold. Zero relies on the
	// failure rate alone.
	MaxFailures int `json:"max_failures" yaml:"max_failures" validate:"gte=0"`
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" validate:"gte=0"`
	// HalfOpenRequests is the number of trial requests admitted while half-open.
	HalfOpenRequests int `json:"half_open_requests" yaml:"half_open_requests" validate:"gte=0"`
	// Window is the look-back for FailureRateThreshold.
	Window time.Duration `json:"window" yaml:"window" validate:"gte=0"`
	// FailureRateThreshold is a percentage (0-100). Zero disables rate evaluation.
	FailureRateThreshold float64 `json:"failure_rate_threshold" yaml:"failure_rate_threshold" validate:"gte=0,lte=100"`
	MinSamples           int     `json:"min_samples" yaml:"min_samples" validate:"gte=0"`
}
