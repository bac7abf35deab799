package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-dispatch/pkg/config"
	"github.com/polisai/polis-dispatch/pkg/dispatch"
	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/interceptors"
	"github.com/polisai/polis-dispatch/pkg/usage"
)

const appConfig = `
routing:
  routes:
    - name: LaunchRequest
      speech: "Welcome"
    - name: ContactIntent
      speech: "Write to support@example.com"
    - name: SecretIntent
      speech: "the code is tok_abc"
    - name: GreetIntent
      speech: "Hello {{ slot \"request.intent.slots.name.value\" }}"
      end_session: true

rate_limits:
  - route: LaunchRequest
    requests_per_second: 0.001
    burst: 1

policy:
  enabled: true
  module: |
    package dispatch

    default allow := false

    allow if input.user_id != "mallory"

dlp:
  enabled: true
  rules:
    - name: email
      pattern: '[a-z]+@[a-z]+\.com'
      action: redact
    - name: token
      pattern: 'tok_[a-z]+'
      action: block
`

type harness struct {
	dispatcher *Dispatcher
	store      *usage.MemoryStore
	logs       *bytes.Buffer
}

func parseConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, extra ...func(b *Builder)) *harness {
	t.Helper()
	logs := &bytes.Buffer{}
	store := usage.NewMemoryStore()
	deps := Deps{Logger: slog.New(slog.NewJSONHandler(logs, nil)), Recorder: store}

	b, err := NewBuilder(context.Background(), cfg, deps)
	require.NoError(t, err)
	for _, fn := range extra {
		fn(b)
	}
	d, err := b.Dispatcher(dispatch.WithMetrics(false))
	require.NoError(t, err)

	return &harness{dispatcher: d, store: store, logs: logs}
}

func (h *harness) dispatch(t *testing.T, env *domain.Envelope) (*domain.HandlerInput, *domain.Response, error) {
	t.Helper()
	in := domain.NewHandlerInput(env)
	out, err := h.dispatcher.Dispatch(context.Background(), in)
	return in, out, err
}

func intentBody(name string) json.RawMessage {
	return json.RawMessage(`{"request":{"type":"IntentRequest","intent":{"name":"` + name + `","slots":{"name":{"value":"Ada"}}}}}`)
}

func TestBuildDispatcher_Routes(t *testing.T) {
	cfg := parseConfig(t, appConfig)

	d, err := BuildDispatcher(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, []string{"LaunchRequest", "ContactIntent", "SecretIntent", "GreetIntent"}, d.Routes())
}

func TestDispatch_StaticRouteFromBody(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig))

	in, out, err := h.dispatch(t, &domain.Envelope{SessionID: "s1", Body: intentBody("GreetIntent")})
	require.NoError(t, err)

	assert.Equal(t, "Hello Ada", out.Speech)
	assert.True(t, out.EndSession)
	assert.Equal(t, "GreetIntent", in.ResolvedName)
	assert.NotEmpty(t, in.RequestID())

	n, err := h.store.CountBySession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, h.logs.String(), `"msg":"dispatch request"`)
	assert.Contains(t, h.logs.String(), `"msg":"dispatch response"`)
}

func TestDispatch_RateLimitedIsRecovered(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig))

	_, out, err := h.dispatch(t, &domain.Envelope{Name: "LaunchRequest"})
	require.NoError(t, err)
	assert.Equal(t, "Welcome", out.Speech)

	_, out, err = h.dispatch(t, &domain.Envelope{Name: "LaunchRequest"})
	require.NoError(t, err)
	assert.Equal(t, MessageRateLimited, out.Speech)
	assert.Equal(t, http.StatusTooManyRequests, out.StatusCode())
	assert.True(t, out.Flag(FlagRecovered))
	assert.Equal(t, domain.CodeRateLimited, out.Headers["X-Error-Code"])

	n, err := h.store.CountByRoute(context.Background(), "LaunchRequest", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "recovered responses are recorded too")
}

func TestDispatch_PolicyDenied(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig))

	_, out, err := h.dispatch(t, &domain.Envelope{Name: "GreetIntent", UserID: "mallory"})
	require.NoError(t, err)
	assert.Equal(t, MessageDenied, out.Speech)
	assert.Equal(t, http.StatusForbidden, out.StatusCode())
}

func TestDispatch_ValidationFailure(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig))

	_, out, err := h.dispatch(t, &domain.Envelope{Locale: "not a locale"})
	require.NoError(t, err)
	assert.Equal(t, MessageInvalid, out.Speech)
	assert.Equal(t, http.StatusBadRequest, out.StatusCode())
}

func TestDispatch_Redaction(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig))

	_, out, err := h.dispatch(t, &domain.Envelope{Name: "ContactIntent"})
	require.NoError(t, err)
	assert.Equal(t, "Write to [REDACTED:email]", out.Speech)
	assert.True(t, out.Flag(interceptors.FlagRedacted))

	_, out, err = h.dispatch(t, &domain.Envelope{Name: "SecretIntent"})
	require.NoError(t, err)
	assert.Equal(t, MessageBlocked, out.Speech)
	assert.NotContains(t, out.Speech, "tok_")
}

func TestDispatch_NoHandler(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig))
	_, _, err := h.dispatch(t, &domain.Envelope{Name: "UnknownIntent"})
	require.ErrorIs(t, err, dispatch.ErrNoHandlerFound)

	cfg := parseConfig(t, appConfig)
	cfg.Routing.FallbackSpeech = "Try asking for help."
	withFallback := newHarness(t, cfg)
	_, out, err := withFallback.dispatch(t, &domain.Envelope{Name: "UnknownIntent"})
	require.NoError(t, err)
	assert.Equal(t, "Try asking for help.", out.Speech)
	assert.Equal(t, http.StatusOK, out.StatusCode())
}

func TestDispatch_PanicIsRecoveredAsInternal(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig), func(b *Builder) {
		b.AddNamedHandler("CrashIntent", func(context.Context, *domain.HandlerInput) (*domain.Response, error) {
			panic("boom")
		})
	})

	_, out, err := h.dispatch(t, &domain.Envelope{Name: "CrashIntent"})
	require.NoError(t, err)
	assert.Equal(t, MessageInternal, out.Speech)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode())
}

func TestDispatch_DeadlineIsNotRecovered(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig), func(b *Builder) {
		b.AddNamedHandler("SlowIntent", func(ctx context.Context, _ *domain.HandlerInput) (*domain.Response, error) {
			return nil, context.DeadlineExceeded
		})
	})

	_, _, err := h.dispatch(t, &domain.Envelope{Name: "SlowIntent"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildDispatcher_SharedRateLimiterSurvivesRebuild(t *testing.T) {
	cfg := parseConfig(t, appConfig)
	limiter := interceptors.NewRateLimiter(nil)
	deps := Deps{RateLimiter: limiter}

	first, err := BuildDispatcher(context.Background(), cfg, deps)
	require.NoError(t, err)
	_, err = first.Dispatch(context.Background(), domain.NewHandlerInput(&domain.Envelope{Name: "LaunchRequest"}))
	require.NoError(t, err)

	second, err := BuildDispatcher(context.Background(), cfg, deps)
	require.NoError(t, err)
	out, err := second.Dispatch(context.Background(), domain.NewHandlerInput(&domain.Envelope{Name: "LaunchRequest"}))
	require.NoError(t, err)
	assert.Equal(t, MessageRateLimited, out.Speech)
}

func TestBuildDispatcher_InvalidPolicy(t *testing.T) {
	cfg := parseConfig(t, "policy:\n  enabled: true\n  module: \"package dispatch\\nallow if {\"\n")

	_, err := BuildDispatcher(context.Background(), cfg, Deps{})
	require.ErrorContains(t, err, "policy engine")
}

func TestBuildDispatcher_InvalidTemplate(t *testing.T) {
	cfg := parseConfig(t, "routing:\n  routes:\n    - name: Broken\n      speech: \"{{ .Missing \"\n")

	_, err := BuildDispatcher(context.Background(), cfg, Deps{})
	require.ErrorContains(t, err, `static route "Broken"`)
}

func TestDispatch_CircuitOpenIsRecovered(t *testing.T) {
	cfg := parseConfig(t, appConfig+`
circuit_breakers:
  - route: FlakyIntent
    max_failures: 1
    open_timeout: 1m
`)
	calls := 0
	h := newHarness(t, cfg, func(b *Builder) {
		b.AddNamedHandler("FlakyIntent", func(context.Context, *domain.HandlerInput) (*domain.Response, error) {
			calls++
			return nil, errors.New("backend down")
		})
	})

	_, out, err := h.dispatch(t, &domain.Envelope{Name: "FlakyIntent"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode())

	_, out, err = h.dispatch(t, &domain.Envelope{Name: "FlakyIntent"})
	require.NoError(t, err)
	assert.Equal(t, MessageUnavailable, out.Speech)
	assert.Equal(t, http.StatusServiceUnavailable, out.StatusCode())
	assert.Equal(t, domain.CodeCircuitOpen, out.Headers["X-Error-Code"])
	assert.Equal(t, 1, calls)
}

func TestDispatch_NilResponseIsNotAnError(t *testing.T) {
	h := newHarness(t, parseConfig(t, appConfig), func(b *Builder) {
		b.AddNamedHandler("Silent", func(context.Context, *domain.HandlerInput) (*domain.Response, error) {
			return nil, nil
		})
	})

	_, out, err := h.dispatch(t, &domain.Envelope{Name: "Silent"})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NotContains(t, h.logs.String(), "dispatch recovered")
	assert.Contains(t, h.logs.String(), `"empty":true`)
}

func TestBuildDispatcher_UnknownNamesShareOneBucket(t *testing.T) {
	cfg := parseConfig(t, strings.Replace(appConfig, "rate_limits:\n", "rate_limits:\n  - requests_per_second: 10\n    burst: 10\n", 1))
	limiter := interceptors.NewRateLimiter(nil)
	d, err := BuildDispatcher(context.Background(), cfg, Deps{RateLimiter: limiter})
	require.NoError(t, err)

	for i := 0; i < 10000; i++ {
		in := domain.NewHandlerInput(&domain.Envelope{Name: fmt.Sprintf("junk-%d", i)})
		_, _ = d.Dispatch(context.Background(), in)
	}
	assert.LessOrEqual(t, len(limiter.Stats()), 1+len(d.Routes()))
}
