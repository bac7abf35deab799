package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-dispatch/pkg/telemetry"
)

const tracerName = "polis.dispatch"

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics bool
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracer sets the tracer. Defaults to the global provider's "polis.dispatch" tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithMetrics toggles dispatch outcome metrics. Enabled by default.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metrics = enabled }
}

// Dispatcher delivers each input to one handler, or to the recovery path, and
// returns exactly one output.
type Dispatcher[I, O any] struct {
	mappers                    []RequestMapper[I, O]
	adapters                   []HandlerAdapter[I, O]
	errorMapper                ErrorMapper[I, O]
	globalRequestInterceptors  []RequestInterceptor[I]
	globalResponseInterceptors []ResponseInterceptor[I, O]
	routes                     []string
	routeSet                   map[string]struct{}

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics bool
}

// NewDispatcher creates a Dispatcher over cfg.
func NewDispatcher[I, O any](cfg *Configuration[I, O], opts ...Option) (*Dispatcher[I, O], error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is nil", ErrInvalidConfiguration)
	}

	o := options{metrics: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	routes := cfg.Routes()
	routeSet := make(map[string]struct{}, len(routes))
	for _, name := range routes {
		routeSet[name] = struct{}{}
	}

	return &Dispatcher[I, O]{
		routes:                     routes,
		routeSet:                   routeSet,
		mappers:                    cfg.Mappers(),
		adapters:                   cfg.Adapters(),
		errorMapper:                cfg.ErrorMapper(),
		globalRequestInterceptors:  cfg.GlobalRequestInterceptors(),
		globalResponseInterceptors: cfg.GlobalResponseInterceptors(),
		logger:                     o.logger,
		tracer:                     o.tracer,
		metrics:                    o.metrics,
	}, nil
}

// Routes returns the configured route names in registration order.
func (d *Dispatcher[I, O]) Routes() []string {
	return slices.Clone(d.routes)
}

// HasRoute reports whether name is a configured route.
func (d *Dispatcher[I, O]) HasRoute(name string) bool {
	_, ok := d.routeSet[name]
	return ok
}

// run tracks one dispatch through the state machine.
type run struct {
	stage Stage
	route string
	span  trace.Span
}

func (r *run) enter(stage Stage) {
	r.stage = stage
	if r.span.IsRecording() {
		r.span.AddEvent("dispatch.stage", trace.WithAttributes(attribute.String("dispatch.stage", stage.String())))
	}
}

// Dispatch runs the pipeline for in. On failure the error is offered once to the
// configured error handlers; when none accepts it, the original error is returned
// unchanged. Dispatch never imposes a deadline of its own.
func (d *Dispatcher[I, O]) Dispatch(ctx context.Context, in I) (O, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatch")
	defer span.End()

	r := &run{stage: StageIdle, span: span}
	out, err := d.execute(ctx, in, r)
	if err == nil {
		span.SetAttributes(attribute.String("dispatch.route", r.route))
		d.record(ctx, r, "", telemetry.OutcomeSuccess, start)
		return out, nil
	}

	failed := r.stage
	span.RecordError(err)
	r.enter(StageRecovering)

	recovered, handled, recoverErr := d.recoverFrom(ctx, in, err)
	span.SetAttributes(
		attribute.String("dispatch.route", r.route),
		attribute.String("dispatch.failed_stage", failed.String()),
	)
	if handled && recoverErr == nil {
		r.enter(StageDone)
		d.logger.WarnContext(ctx, "dispatch recovered",
			"route", r.route,
			"stage", failed.String(),
			"error", err,
			"trace_id", telemetry.TraceID(ctx),
		)
		d.record(ctx, r, failed.String(), telemetry.OutcomeRecovered, start)
		return recovered, nil
	}

	r.enter(StageFailed)
	span.SetStatus(codes.Error, recoverErr.Error())
	d.logger.WarnContext(ctx, "dispatch failed",
		"route", r.route,
		"stage", failed.String(),
		"recovery_attempted", handled,
		"error", recoverErr,
		"trace_id", telemetry.TraceID(ctx),
	)
	d.record(ctx, r, failed.String(), telemetry.OutcomeFailed, start)

	var zero O
	return zero, recoverErr
}

func (d *Dispatcher[I, O]) execute(ctx context.Context, in I, r *run) (out O, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero O
			out, err = zero, newPanicError(r.stage, p)
		}
	}()

	r.enter(StageGlobalRequestInterceptors)
	for _, interceptor := range d.globalRequestInterceptors {
		if err := interceptor.Process(ctx, in); err != nil {
			return out, err
		}
	}

	r.enter(StageRouting)
	chain, err := d.route(ctx, in)
	if err != nil {
		return out, err
	}
	if chain == nil {
		return out, ErrNoHandlerFound
	}
	r.route = chain.name
	ctx = ContextWithRoute(ctx, chain.name)

	adapter := d.selectAdapter(chain.handler)
	if adapter == nil {
		return out, fmt.Errorf("%w: route %q", ErrNoAdapterFound, chain.name)
	}
	d.logger.DebugContext(ctx, "dispatch route selected", "route", chain.name)

	r.enter(StageLocalRequestInterceptors)
	for _, interceptor := range chain.requestInterceptors {
		if err := interceptor.Process(ctx, in); err != nil {
			return out, err
		}
	}

	r.enter(StageExecuting)
	result, err := adapter.Execute(ctx, in, chain.handler)
	if err != nil {
		return out, err
	}

	r.enter(StageLocalResponseInterceptors)
	for _, interceptor := range chain.responseInterceptors {
		if err := interceptor.Process(ctx, in, result); err != nil {
			return out, err
		}
	}

	r.enter(StageGlobalResponseInterceptors)
	for _, interceptor := range d.globalResponseInterceptors {
		if err := interceptor.Process(ctx, in, result); err != nil {
			return out, err
		}
	}

	r.enter(StageDone)
	return result, nil
}

func (d *Dispatcher[I, O]) route(ctx context.Context, in I) (*HandlerChain[I, O], error) {
	for _, mapper := range d.mappers {
		chain, err := mapper.Match(ctx, in)
		if err != nil {
			return nil, err
		}
		if chain != nil {
			return chain, nil
		}
	}
	return nil, nil
}

func (d *Dispatcher[I, O]) selectAdapter(handler RequestHandler[I, O]) HandlerAdapter[I, O] {
	for _, adapter := range d.adapters {
		if adapter.Supports(handler) {
			return adapter
		}
	}
	return nil
}

// recoverFrom offers cause to the error mapper. handled reports whether an error
// handler was invoked. Errors raised while matching or handling are returned as-is
// and are never routed through the error mapper again.
func (d *Dispatcher[I, O]) recoverFrom(ctx context.Context, in I, cause error) (out O, handled bool, err error) {
	if d.errorMapper == nil {
		return out, false, cause
	}

	defer func() {
		if p := recover(); p != nil {
			var zero O
			out, err = zero, newPanicError(StageRecovering, p)
		}
	}()

	handler, err := d.errorMapper.Match(ctx, in, cause)
	if err != nil {
		return out, false, err
	}
	if handler == nil {
		return out, false, cause
	}

	handled = true
	out, err = handler.Handle(ctx, in, cause)
	return out, handled, err
}

func (d *Dispatcher[I, O]) record(ctx context.Context, r *run, stage string, outcome telemetry.Outcome, start time.Time) {
	if !d.metrics {
		return
	}
	telemetry.RecordDispatchMetrics(ctx, telemetry.DispatchMetrics{
		Route:    r.route,
		Stage:    stage,
		Outcome:  outcome,
		Duration: time.Since(start),
	})
}

// IsRoutingFailure reports whether err is a routing failure (no handler or no adapter).
func IsRoutingFailure(err error) bool {
	return errors.Is(err, ErrNoHandlerFound) || errors.Is(err, ErrNoAdapterFound)
}
