package interceptors

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// RequestLogger writes one access record per request entering the pipeline.
type RequestLogger struct {
	logger *slog.Logger
}

// NewRequestLogger falls back to slog.Default when logger is nil.
func NewRequestLogger(logger *slog.Logger) *RequestLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestLogger{logger: logger}
}

func (l *RequestLogger) Process(ctx context.Context, in *domain.HandlerInput) error {
	env := in.Envelope
	l.logger.LogAttrs(ctx, slog.LevelInfo, "dispatch request",
		slog.String("request_id", env.ID),
		slog.String("route", in.ResolvedName),
		slog.String("type", env.Type),
		slog.String("locale", env.Locale),
		slog.String("session_id", env.SessionID),
	)
	return nil
}

// ResponseLogger writes one access record per successfully handled request.
type ResponseLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewResponseLogger falls back to slog.Default when logger is nil.
func NewResponseLogger(logger *slog.Logger) *ResponseLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseLogger{logger: logger, now: time.Now}
}

func (l *ResponseLogger) Process(ctx context.Context, in *domain.HandlerInput, out *domain.Response) error {
	attrs := []slog.Attr{
		slog.String("request_id", in.RequestID()),
		slog.String("route", in.ResolvedName),
		slog.Int("status", out.StatusCode()),
	}
	if received := in.Envelope.ReceivedAt; !received.IsZero() {
		attrs = append(attrs, slog.Duration("duration", l.now().Sub(received)))
	}
	if out == nil {
		l.logger.LogAttrs(ctx, slog.LevelInfo, "dispatch response", append(attrs, slog.Bool("empty", true))...)
		return nil
	}
	attrs = append(attrs, slog.Bool("end_session", out.EndSession))
	if len(out.Flags) > 0 {
		flags := make([]string, 0, len(out.Flags))
		for flag, set := range out.Flags {
			if set {
				flags = append(flags, flag)
			}
		}
		slices.Sort(flags)
		attrs = append(attrs, slog.Any("flags", flags))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "dispatch response", attrs...)
	return nil
}
