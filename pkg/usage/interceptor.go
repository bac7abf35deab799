package usage

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/telemetry"
)

// Interceptor is a global response interceptor writing one record per dispatched
// request. Write failures are logged and do not fail the request.
type Interceptor struct {
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewInterceptor falls back to slog.Default when logger is nil.
func NewInterceptor(recorder Recorder, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{recorder: recorder, logger: logger, now: time.Now}
}

func (i *Interceptor) Process(ctx context.Context, in *domain.HandlerInput, out *domain.Response) error {
	env := in.Envelope
	rec := domain.UsageRecord{
		RequestID:  env.ID,
		Route:      in.ResolvedName,
		Type:       env.Type,
		SessionID:  env.SessionID,
		UserID:     env.UserID,
		TraceID:    telemetry.TraceID(ctx),
		Status:     out.StatusCode(),
		ReceivedAt: env.ReceivedAt,
	}
	if !env.ReceivedAt.IsZero() {
		rec.Duration = i.now().Sub(env.ReceivedAt)
	}
	if out != nil {
		for flag, set := range out.Flags {
			if set {
				rec.Flags = append(rec.Flags, flag)
			}
		}
		slices.Sort(rec.Flags)
	}

	if err := i.recorder.Record(ctx, rec); err != nil {
		i.logger.WarnContext(ctx, "usage record failed",
			"request_id", rec.RequestID,
			"route", rec.Route,
			"error", err,
		)
	}
	return nil
}
