package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-dispatch/pkg/dispatch"
	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/routing"
)

type builder = dispatch.ConfigurationBuilder[*domain.HandlerInput, *domain.Response]

func newDispatcher(t *testing.T, configure func(b *builder)) *Dispatcher {
	t.Helper()
	resolver := routing.NewResolver()
	b := dispatch.NewConfigurationBuilder[*domain.HandlerInput, *domain.Response](resolver.Name)
	configure(b)
	cfg, err := b.Build()
	require.NoError(t, err)
	d, err := dispatch.NewDispatcher(cfg, dispatch.WithMetrics(false))
	require.NoError(t, err)
	return d
}

func speak(text string) dispatch.HandlerFunc[*domain.HandlerInput, *domain.Response] {
	return func(_ context.Context, in *domain.HandlerInput) (*domain.Response, error) {
		return in.Response.Speak(text).Build(), nil
	}
}

func failWith(err error) dispatch.HandlerFunc[*domain.HandlerInput, *domain.Response] {
	return func(context.Context, *domain.HandlerInput) (*domain.Response, error) {
		return nil, err
	}
}

func post(t *testing.T, h http.Handler, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, dispatchPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorResponse {
	t.Helper()
	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer_Dispatch(t *testing.T) {
	d := newDispatcher(t, func(b *builder) {
		b.AddNamedHandler("HelloIntent", func(_ context.Context, in *domain.HandlerInput) (*domain.Response, error) {
			out := in.Response.Speak("hello " + in.Envelope.Header("X-Tenant")).WithStatus(http.StatusCreated).Build()
			out.SetHeader("X-Route", in.ResolvedName)
			return out, nil
		})
	})
	s := New(d, Options{})

	rec := post(t, s.Handler(), `{"id":"req-1","body":{"request":{"intent":{"name":"HelloIntent"}}}}`, "X-Tenant", "acme")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "HelloIntent", rec.Header().Get("X-Route"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))

	var out domain.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "hello acme", out.Speech)
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{name: "rate limited", err: domain.NewDomainError(domain.ErrRateLimited, domain.CodeRateLimited, "slow down"), wantStatus: http.StatusTooManyRequests, wantCode: domain.CodeRateLimited, wantMsg: "slow down"},
		{name: "denied", err: fmt.Errorf("wrapped: %w", domain.ErrPolicyDenied), wantStatus: http.StatusForbidden, wantCode: domain.CodePolicyDenied, wantMsg: "request denied"},
		{name: "invalid", err: domain.NewDomainError(domain.ErrValidationFailed, domain.CodeValidationFailed, ""), wantStatus: http.StatusBadRequest, wantCode: domain.CodeValidationFailed, wantMsg: "invalid request"},
		{name: "timeout", err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout, wantCode: domain.CodeTimeout},
		{name: "circuit open", err: domain.ErrCircuitOpen, wantStatus: http.StatusServiceUnavailable, wantCode: domain.CodeCircuitOpen, wantMsg: "route unavailable"},
		{name: "internal", err: errors.New("db password leaked"), wantStatus: http.StatusInternalServerError, wantCode: domain.CodeInternal, wantMsg: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newDispatcher(t, func(b *builder) { b.AddNamedHandler("Fail", failWith(tt.err)) }), Options{})

			rec := post(t, s.Handler(), `{"name":"Fail"}`)
			require.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Message)
			}
			assert.NotContains(t, rec.Body.String(), "password")
		})
	}
}

func TestServer_NoHandler(t *testing.T) {
	s := New(newDispatcher(t, func(b *builder) { b.AddNamedHandler("Known", speak("known")) }), Options{})

	rec := post(t, s.Handler(), `{"name":"Unknown"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CodeNoHandler, decodeError(t, rec).Code)
}

func TestServer_BadRequests(t *testing.T) {
	s := New(newDispatcher(t, func(b *builder) {}), Options{MaxBodyBytes: 32})

	rec := post(t, s.Handler(), `{"name":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeBadRequest, decodeError(t, rec).Code)

	rec = post(t, s.Handler(), `{"name":"`+strings.Repeat("a", 64)+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, dispatchPath, nil)
	getRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(getRec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, getRec.Code)
}

func TestServer_RequestTimeout(t *testing.T) {
	d := newDispatcher(t, func(b *builder) {
		b.AddNamedHandler("Slow", func(ctx context.Context, _ *domain.HandlerInput) (*domain.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	})
	s := New(d, Options{RequestTimeout: 20 * time.Millisecond})

	rec := post(t, s.Handler(), `{"name":"Slow"}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, domain.CodeTimeout, decodeError(t, rec).Code)
}

func TestServer_Swap(t *testing.T) {
	first := newDispatcher(t, func(b *builder) { b.AddNamedHandler("Hello", speak("v1")) })
	second := newDispatcher(t, func(b *builder) { b.AddNamedHandler("Hello", speak("v2")) })
	s := New(first, Options{})

	assert.Contains(t, post(t, s.Handler(), `{"name":"Hello"}`).Body.String(), "v1")

	s.Swap(second)
	assert.Same(t, second, s.Dispatcher())
	assert.Contains(t, post(t, s.Handler(), `{"name":"Hello"}`).Body.String(), "v2")
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := New(newDispatcher(t, func(b *builder) { b.AddNamedHandler("Hello", speak("hi")) }), Options{})
	post(t, s.Handler(), `{"name":"Hello"}`)
	post(t, s.Handler(), `{"name":"Nope"}`)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `dispatch_requests_total{code="OK",route="Hello"} 1`)
	assert.Contains(t, body, `dispatch_requests_total{code="NO_HANDLER",route="unmatched"} 1`)
	assert.Contains(t, body, `dispatch_http_requests_total{endpoint="dispatch",method="POST",status_code="404"} 1`)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := New(newDispatcher(t, func(b *builder) { b.AddNamedHandler("Hello", speak("hi")) }), Options{})

	addr, err := s.Start("127.0.0.1:0", nil)
	require.NoError(t, err)

	resp, err := http.Post("http://"+addr.String()+dispatchPath, "application/json", strings.NewReader(`{"name":"Hello"}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"speech":"hi"`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestForwardedHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Request-Id", "abc")
	h.Set("Authorization", "Bearer secret")
	h.Add("X-Multi", "first")
	h.Add("X-Multi", "second")

	assert.Equal(t, map[string]string{"X-Request-Id": "abc", "X-Multi": "first"}, forwardedHeaders(h))
}
