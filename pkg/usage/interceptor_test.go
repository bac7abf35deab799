package usage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

type failingRecorder struct {
	MemoryStore
}

func (*failingRecorder) Record(context.Context, domain.UsageRecord) error {
	return errors.New("disk full")
}

func TestInterceptor_RecordsDispatch(t *testing.T) {
	store := NewMemoryStore()
	received := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	in := domain.NewHandlerInput(&domain.Envelope{
		ID:        "req-1",
		Type:      "IntentRequest",
		SessionID: "s1",
		UserID:    "u1",
	})
	in.Envelope.ReceivedAt = received
	in.ResolvedName = "HelloIntent"

	out := in.Response.Speak("hi").WithStatus(201).Build()
	out.SetFlag("z.flag")
	out.SetFlag("a.flag")

	i := NewInterceptor(store, nil)
	i.now = func() time.Time { return received.Add(250 * time.Millisecond) }
	require.NoError(t, i.Process(context.Background(), in, out))

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, "HelloIntent", rec.Route)
	assert.Equal(t, "IntentRequest", rec.Type)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, 201, rec.Status)
	assert.Equal(t, []string{"a.flag", "z.flag"}, rec.Flags)
	assert.Equal(t, 250*time.Millisecond, rec.Duration)
	assert.Empty(t, rec.TraceID)
}

func TestInterceptor_LogsRecordFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	in := domain.NewHandlerInput(&domain.Envelope{ID: "req-2"})
	err := NewInterceptor(&failingRecorder{}, logger).Process(context.Background(), in, in.Response.Build())

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "usage record failed")
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), "req-2")
}
