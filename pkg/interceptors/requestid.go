package interceptors

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/telemetry"
)

// RequestIDHeader is consulted when the envelope carries no id.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns an id to envelopes that arrive without one and tags the active
// span with the request identity.
type RequestID struct {
	// Redactions is applied to span attributes, see telemetry.RedactAttributes.
	Redactions map[string]string
}

func (r RequestID) Process(ctx context.Context, in *domain.HandlerInput) error {
	env := in.Envelope
	if env.ID == "" {
		env.ID = env.Header(RequestIDHeader)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	telemetry.RecordRequest(ctx, r.Redactions,
		attribute.String("request.id", env.ID),
		attribute.String("request.type", env.Type),
		attribute.String("session.id", env.SessionID),
		attribute.String("enduser.id", env.UserID),
	)
	return nil
}
