package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/polisai/polis-dispatch/pkg/dispatch"
	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/policy/dlp"
)

// classify maps an unrecovered dispatch error onto an HTTP status and a public
// error body. Messages of unclassified errors are not exposed.
func classify(err error) (int, domain.ErrorResponse) {
	switch {
	case errors.Is(err, dispatch.ErrNoHandlerFound):
		return http.StatusNotFound, domain.ErrorResponse{Code: domain.CodeNoHandler, Message: "no handler for request"}
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, domain.ErrorResponse{Code: domain.CodeRateLimited, Message: publicMessage(err, "rate limit exceeded")}
	case errors.Is(err, domain.ErrPolicyDenied), errors.Is(err, dlp.ErrBlocked):
		return http.StatusForbidden, domain.ErrorResponse{Code: domain.CodePolicyDenied, Message: publicMessage(err, "request denied")}
	case errors.Is(err, domain.ErrCircuitOpen):
		return http.StatusServiceUnavailable, domain.ErrorResponse{Code: domain.CodeCircuitOpen, Message: publicMessage(err, "route unavailable")}
	case errors.Is(err, domain.ErrValidationFailed):
		return http.StatusBadRequest, domain.ErrorResponse{Code: domain.CodeValidationFailed, Message: publicMessage(err, "invalid request")}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.ErrorResponse{Code: domain.CodeTimeout, Message: "request timed out"}
	default:
		return http.StatusInternalServerError, domain.ErrorResponse{Code: domain.CodeInternal, Message: "internal error"}
	}
}

// publicMessage prefers the caller-safe message of a DomainError.
func publicMessage(err error, fallback string) string {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return fallback
}
