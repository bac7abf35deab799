// Package app assembles a dispatcher from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/polisai/polis-dispatch/pkg/config"
	"github.com/polisai/polis-dispatch/pkg/dispatch"
	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/governance"
	"github.com/polisai/polis-dispatch/pkg/interceptors"
	"github.com/polisai/polis-dispatch/pkg/policy"
	"github.com/polisai/polis-dispatch/pkg/policy/dlp"
	"github.com/polisai/polis-dispatch/pkg/routing"
	"github.com/polisai/polis-dispatch/pkg/usage"
)

type (
	// Dispatcher is the engine instantiation used by the service.
	Dispatcher = dispatch.Dispatcher[*domain.HandlerInput, *domain.Response]
	builder    = dispatch.ConfigurationBuilder[*domain.HandlerInput, *domain.Response]
)

// Messages spoken by the built-in error handlers.
const (
	MessageRateLimited = "You're going a little fast. Please try again in a moment."
	MessageDenied      = "Sorry, I can't help with that."
	MessageInvalid     = "Sorry, I didn't understand that request."
	MessageBlocked     = "Sorry, I can't share that."
	MessageUnavailable = "Sorry, that isn't available right now. Please try again later."
	MessageInternal    = "Sorry, something went wrong. Please try again later."
)

// FlagRecovered marks responses produced by an error handler.
const FlagRecovered = "dispatch.recovered"

// Deps carries long-lived collaborators that outlive a single configuration.
type Deps struct {
	Logger *slog.Logger
	// Recorder receives usage records. Nil disables usage tracking.
	Recorder usage.Recorder
	// RateLimiter is reconfigured rather than replaced, so buckets survive reloads.
	// Nil creates a fresh limiter.
	RateLimiter *interceptors.RateLimiter
	// Breakers is reconfigured rather than replaced, so open circuits survive
	// reloads. Nil creates a fresh set.
	Breakers *governance.Breakers
}

// BuildDispatcher builds an immutable Dispatcher for cfg. A reload builds a new
// one; cfg must not be modified afterwards.
func BuildDispatcher(ctx context.Context, cfg *config.Config, deps Deps) (*Dispatcher, error) {
	b, err := NewBuilder(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	return b.Dispatcher()
}

// Builder is a ConfigurationBuilder populated from configuration. Callers may
// register further handlers before calling Dispatcher.
type Builder struct {
	*builder
	limiter *interceptors.RateLimiter
	logger  *slog.Logger
}

// Dispatcher builds the configuration and hands the final route table to the
// rate limiter.
func (b *Builder) Dispatcher(opts ...dispatch.Option) (*Dispatcher, error) {
	dcfg, err := b.Build()
	if err != nil {
		return nil, err
	}
	b.limiter.SetRoutes(dcfg.Routes())
	return dispatch.NewDispatcher(dcfg, append([]dispatch.Option{dispatch.WithLogger(b.logger)}, opts...)...)
}

// NewBuilder returns a Builder populated from cfg.
func NewBuilder(ctx context.Context, cfg *config.Config, deps Deps) (*Builder, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	resolver := routing.NewResolver(cfg.Routing.NamePaths...)
	b := dispatch.NewConfigurationBuilder[*domain.HandlerInput, *domain.Response](resolver.Name)

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = interceptors.NewRateLimiter(cfg.RateLimits)
	} else {
		limiter.Configure(cfg.RateLimits)
	}

	b.AddRequestInterceptors(
		resolver,
		interceptors.RequestID{Redactions: cfg.Telemetry.Redactions},
		interceptors.NewValidation(),
		interceptors.NewRequestLogger(logger),
		limiter,
	)

	if cfg.Policy.Enabled {
		modules, err := cfg.Policy.Modules()
		if err != nil {
			return nil, err
		}
		engine, err := policy.NewEngine(ctx, policy.EngineOptions{
			Entrypoint:      cfg.Policy.Entrypoint,
			Modules:         modules,
			CacheMaxEntries: cfg.Policy.CacheMaxEntries,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("policy engine: %w", err)
		}
		b.AddRequestInterceptors(interceptors.NewPolicy(engine, cfg.Policy.FailOpen, logger))
	}

	breakers := deps.Breakers
	if breakers == nil {
		breakers = governance.NewBreakers(cfg.CircuitBreakers, logger)
	} else {
		breakers.Configure(cfg.CircuitBreakers)
	}
	b.AddAdapters(breakers.Adapter())

	if err := routing.RegisterStatic(b, staticRoutes(cfg.Routing.Routes)...); err != nil {
		return nil, err
	}

	var scanner *dlp.Scanner
	if cfg.DLP.Enabled {
		var err error
		scanner, err = dlp.NewScanner(cfg.DLP.ScannerConfig())
		if err != nil {
			return nil, fmt.Errorf("dlp scanner: %w", err)
		}
		b.AddResponseInterceptors(interceptors.NewRedaction(scanner))
	}

	// Recovered responses skip the response interceptors, so the access log and
	// usage record are written by the error handlers themselves.
	finishers := []dispatch.ResponseInterceptor[*domain.HandlerInput, *domain.Response]{
		interceptors.NewResponseLogger(logger),
	}
	if deps.Recorder != nil {
		finishers = append(finishers, usage.NewInterceptor(deps.Recorder, logger))
	}
	b.AddResponseInterceptors(finishers...)

	r := recovery{finishers: finishers, logger: logger}
	b.AddErrorHandler(dispatch.MatchErrorIs[*domain.HandlerInput](domain.ErrRateLimited),
		r.respond(http.StatusTooManyRequests, MessageRateLimited))
	b.AddErrorHandler(dispatch.MatchErrorIs[*domain.HandlerInput](domain.ErrPolicyDenied),
		r.respond(http.StatusForbidden, MessageDenied))
	b.AddErrorHandler(dispatch.MatchErrorIs[*domain.HandlerInput](domain.ErrValidationFailed),
		r.respond(http.StatusBadRequest, MessageInvalid))
	b.AddErrorHandler(dispatch.MatchErrorIs[*domain.HandlerInput](domain.ErrCircuitOpen),
		r.respond(http.StatusServiceUnavailable, MessageUnavailable))
	b.AddErrorHandler(dispatch.MatchErrorIs[*domain.HandlerInput](dlp.ErrBlocked),
		r.respond(http.StatusOK, MessageBlocked))
	if cfg.Routing.FallbackSpeech != "" {
		b.AddErrorHandler(dispatch.MatchErrorIs[*domain.HandlerInput](dispatch.ErrNoHandlerFound),
			r.respond(http.StatusOK, cfg.Routing.FallbackSpeech))
	}
	b.AddErrorHandler(dispatch.MatchErrorFunc[*domain.HandlerInput](isInternal), r.respond(http.StatusInternalServerError, MessageInternal))

	return &Builder{builder: b, limiter: limiter, logger: logger}, nil
}

// isInternal accepts every failure the host should not see verbatim. Deadlines
// and unknown routes are left to the transport.
func isInternal(_ context.Context, _ *domain.HandlerInput, err error) (bool, error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return false, nil
	case errors.Is(err, dispatch.ErrNoHandlerFound):
		return false, nil
	default:
		return true, nil
	}
}

type recovery struct {
	finishers []dispatch.ResponseInterceptor[*domain.HandlerInput, *domain.Response]
	logger    *slog.Logger
}

// respond builds an error handler that speaks message with status and discards
// anything the failed pipeline had accumulated.
func (r recovery) respond(status int, message string) dispatch.ErrorHandlerFunc[*domain.HandlerInput, *domain.Response] {
	return func(ctx context.Context, in *domain.HandlerInput, cause error) (*domain.Response, error) {
		out := domain.NewResponseBuilder().
			Speak(message).
			WithStatus(status).
			Build()
		out.SetFlag(FlagRecovered)

		var domainErr *domain.DomainError
		if errors.As(cause, &domainErr) && domainErr.Code != "" {
			out.SetHeader("X-Error-Code", domainErr.Code)
		}

		for _, finisher := range r.finishers {
			if err := finisher.Process(ctx, in, out); err != nil {
				r.logger.WarnContext(ctx, "recovered response interceptor failed", "error", err)
			}
		}
		return out, nil
	}
}

func staticRoutes(routes []config.RouteConfig) []routing.StaticRoute {
	out := make([]routing.StaticRoute, len(routes))
	for i, route := range routes {
		out[i] = routing.StaticRoute{
			Name:        route.Name,
			Speech:      route.Speech,
			Reprompt:    route.Reprompt,
			CardTitle:   route.CardTitle,
			CardContent: route.CardContent,
			EndSession:  route.EndSession,
			Status:      route.Status,
		}
	}
	return out
}
