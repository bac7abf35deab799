// Package server exposes a Dispatcher over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-dispatch/pkg/dispatch"
	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/telemetry"
)

const (
	dispatchPath        = "/v1/dispatch"
	maxForwardedHeaders = 64
)

// Dispatcher is the engine instantiation served over HTTP.
type Dispatcher = dispatch.Dispatcher[*domain.HandlerInput, *domain.Response]

// Options configure a Server.
type Options struct {
	// RequestTimeout bounds each dispatch. Zero means no deadline beyond the client's.
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *slog.Logger
	Metrics        *Metrics
}

// Server routes HTTP requests to the current Dispatcher. The Dispatcher can be
// replaced at any time; in-flight requests finish on the one they started with.
type Server struct {
	dispatcher atomic.Pointer[Dispatcher]
	opts       Options
	logger     *slog.Logger
	metrics    *Metrics
	handler    http.Handler
	httpServer *http.Server
}

// New creates a Server around d.
func New(d *Dispatcher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	s := &Server{opts: opts, logger: logger, metrics: metrics}
	s.dispatcher.Store(d)

	mux := http.NewServeMux()
	mux.Handle("POST "+dispatchPath, otelhttp.NewHandler(http.HandlerFunc(s.handleDispatch), "polis.dispatch"))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	s.handler = metrics.MetricsMiddleware(mux)

	return s
}

// Swap replaces the Dispatcher used for new requests.
func (s *Server) Swap(d *Dispatcher) {
	s.dispatcher.Store(d)
	s.metrics.RecordConfigReload("success")
}

// Dispatcher returns the current Dispatcher.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher.Load()
}

// Metrics returns the server's Prometheus metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds addr and serves in the background. It returns the bound address.
func (s *Server) Start(addr string, tlsConfig *tls.Config) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed", "error", err)
		}
	}()

	s.logger.Info("server listening", "addr", listener.Addr().String(), "tls", tlsConfig != nil)
	return listener.Addr(), nil
}

// Shutdown gracefully stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var env domain.Envelope
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		s.metrics.RecordDispatch("", domain.CodeBadRequest)
		s.writeError(ctx, w, http.StatusBadRequest, domain.ErrorResponse{Code: domain.CodeBadRequest, Message: "malformed request body"})
		return
	}
	if env.ID == "" {
		env.ID = r.Header.Get("X-Request-Id")
	}
	if len(env.Headers) == 0 {
		env.Headers = forwardedHeaders(r.Header)
	}

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	d := s.dispatcher.Load()
	in := domain.NewHandlerInput(&env)
	out, err := d.Dispatch(ctx, in)
	route := routeLabel(d, in.ResolvedName)
	if in.RequestID() != "" {
		w.Header().Set("X-Request-Id", in.RequestID())
	}
	if err != nil {
		status, resp := classify(err)
		s.metrics.RecordDispatch(route, resp.Code)
		if status == http.StatusInternalServerError {
			s.logger.ErrorContext(ctx, "dispatch failed", "route", in.ResolvedName, "request_id", in.RequestID(), "error", err)
		}
		s.writeError(ctx, w, status, resp)
		return
	}
	if out == nil {
		out = in.Response.Build()
	}

	s.metrics.RecordDispatch(route, "")
	for key, value := range out.Headers {
		w.Header().Set(key, value)
	}
	writeJSON(w, out.StatusCode(), out)
}

// routeLabel keeps caller-supplied names out of metric labels.
func routeLabel(d *Dispatcher, name string) string {
	if d.HasRoute(name) {
		return name
	}
	return ""
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, resp domain.ErrorResponse) {
	resp.TraceID = telemetry.TraceID(ctx)
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// forwardedHeaders copies the first value of each X- request header into the
// envelope.
func forwardedHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for key, values := range h {
		if len(out) == maxForwardedHeaders {
			break
		}
		if strings.HasPrefix(key, "X-") && len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
