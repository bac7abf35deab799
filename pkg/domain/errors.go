package domain

import "errors"

// Common domain errors
var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrPolicyDenied     = errors.New("request denied by policy")
	ErrPolicyEvalFailed = errors.New("policy evaluation failed")
	ErrValidationFailed = errors.New("request validation failed")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
)

// Error codes carried by ErrorResponse.
const (
	CodeNoHandler        = "NO_HANDLER"
	CodeRateLimited      = "RATE_LIMITED"
	CodePolicyDenied     = "POLICY_DENIED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeTimeout          = "TIMEOUT"
	CodeCircuitOpen      = "CIRCUIT_OPEN"
	CodeInternal         = "INTERNAL"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

// NewDomainError wraps err with a machine-readable code and a message safe to show callers.
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{Err: err, Code: code, Message: message}
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return e.Code
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a detail value and returns e.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrorResponse defines the standard JSON error model returned by the dispatch API.
// It intentionally avoids exposing sensitive details while providing a stable machine-readable code.
// TraceID should carry the current OpenTelemetry trace identifier when available to aid diagnostics.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., NO_HANDLER, RATE_LIMITED)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
