package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/policy/dlp"
)

const sampleConfig = `
server:
  address: ":9000"
  request_timeout: 2s
  max_body_bytes: 4096

telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  sample_ratio: 0.25
  redactions:
    enduser.id: hash

logging:
  level: DEBUG
  format: text

routing:
  name_paths: ["request.intent.name"]
  fallback_speech: "Sorry?"
  routes:
    - name: LaunchRequest
      speech: "Welcome"
    - name: HelloIntent
      speech: "Hello {{ slot \"request.intent.slots.name.value\" }}"
      end_session: true
      status: 201

rate_limits:
  - requests_per_second: 50
    burst: 100
  - route: HelloIntent
    requests_per_second: 1
    burst: 1
    scope: session

policy:
  enabled: true
  file: policies/dispatch.rego
  fail_open: true

dlp:
  enabled: true

usage:
  enabled: true
  driver: SQLITE
  dsn: ":memory:"
  conn_max_lifetime: 1m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, defaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(4096), cfg.Server.MaxBodyBytes)

	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, defaultServiceName, cfg.Telemetry.ServiceName)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	require.Len(t, cfg.Routing.Routes, 2)
	assert.Equal(t, "HelloIntent", cfg.Routing.Routes[1].Name)
	assert.True(t, cfg.Routing.Routes[1].EndSession)
	assert.Equal(t, 201, cfg.Routing.Routes[1].Status)
	assert.Equal(t, "Sorry?", cfg.Routing.FallbackSpeech)

	require.Len(t, cfg.RateLimits, 2)
	assert.Equal(t, domain.RateLimitRule{Route: "HelloIntent", RequestsPerSecond: 1, Burst: 1, Scope: "session"}, cfg.RateLimits[1])

	assert.Equal(t, filepath.Join(filepath.Dir(path), "policies", "dispatch.rego"), cfg.Policy.File)
	assert.True(t, cfg.Policy.FailOpen)

	assert.Equal(t, "sqlite", cfg.Usage.Driver)
	assert.Equal(t, time.Minute, cfg.Usage.ConnMaxLifetime)

	assert.Equal(t, dlp.DefaultConfig(), cfg.DLP.ScannerConfig())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultAddress, cfg.Server.Address)
	assert.Equal(t, defaultRequestTimeout, cfg.Server.RequestTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "sqlite", cfg.Usage.Driver)
	assert.False(t, cfg.Policy.Enabled)
	assert.Nil(t, cfg.Server.TLS)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DISPATCH_ADDR", ":7000")
	t.Setenv("DISPATCH_REQUEST_TIMEOUT", "750ms")
	t.Setenv("DISPATCH_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("DISPATCH_OTLP_INSECURE", "true")
	t.Setenv("DISPATCH_SAMPLE_RATIO", "0.5")
	t.Setenv("DISPATCH_LOG_LEVEL", "warn")
	t.Setenv("DISPATCH_USAGE_DRIVER", "memory")

	cfg, err := Load(writeConfig(t, "server:\n  address: \":9000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, 750*time.Millisecond, cfg.Server.RequestTimeout)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.InDelta(t, 0.5, cfg.Telemetry.SampleRatio, 1e-9)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Usage.Driver)
	assert.True(t, cfg.Usage.Enabled)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{name: "log level", yaml: "logging:\n  level: verbose\n", wantMsg: "invalid log level"},
		{name: "log format", yaml: "logging:\n  format: xml\n", wantMsg: "invalid log format"},
		{name: "negative timeout", yaml: "server:\n  request_timeout: -1s\n", wantMsg: "request_timeout"},
		{name: "sample ratio", yaml: "telemetry:\n  sample_ratio: 2\n", wantMsg: "sample_ratio"},
		{name: "redaction strategy", yaml: "telemetry:\n  redactions:\n    a: shred\n", wantMsg: "unknown redaction strategy"},
		{name: "route without speech", yaml: "routing:\n  routes:\n    - name: A\n", wantMsg: "Speech"},
		{name: "duplicate route", yaml: "routing:\n  routes:\n    - {name: A, speech: a}\n    - {name: A, speech: b}\n", wantMsg: "duplicate route name"},
		{name: "route status", yaml: "routing:\n  routes:\n    - {name: A, speech: a, status: 42}\n", wantMsg: "Status"},
		{name: "rate limit", yaml: "rate_limits:\n  - requests_per_second: 0\n    burst: 1\n", wantMsg: "RequestsPerSecond"},
		{name: "rate limit scope", yaml: "rate_limits:\n  - {requests_per_second: 1, burst: 1, scope: tenant}\n", wantMsg: "Scope"},
		{name: "circuit breaker rate", yaml: "circuit_breakers:\n  - {failure_rate_threshold: 150}\n", wantMsg: "FailureRateThreshold"},
		{name: "policy without source", yaml: "policy:\n  enabled: true\n", wantMsg: "policy.file"},
		{name: "usage driver", yaml: "usage:\n  driver: mysql\n", wantMsg: "unsupported driver"},
		{name: "postgres without dsn", yaml: "usage:\n  enabled: true\n  driver: postgres\n", wantMsg: "usage.dsn"},
		{name: "tls without key", yaml: "server:\n  tls:\n    enabled: true\n    cert_file: c.pem\n", wantMsg: "key_file"},
		{name: "tls version", yaml: "server:\n  tls:\n    enabled: true\n    cert_file: c.pem\n    key_file: k.pem\n    min_version: \"1.0\"\n", wantMsg: "min_version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, domain.ErrConfigInvalid)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("server: [unterminated"))
	require.Error(t, err)
}

func TestPolicyConfig_Modules(t *testing.T) {
	inline := PolicyConfig{Enabled: true, Module: "package dispatch\n"}
	modules, err := inline.Modules()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"inline.rego": "package dispatch\n"}, modules)

	dir := t.TempDir()
	file := filepath.Join(dir, "authz.rego")
	require.NoError(t, os.WriteFile(file, []byte("package dispatch\nallow := true\n"), 0o600))

	fromFile := PolicyConfig{Enabled: true, File: file}
	modules, err = fromFile.Modules()
	require.NoError(t, err)
	assert.Equal(t, "package dispatch\nallow := true\n", modules["authz.rego"])

	missing := PolicyConfig{Enabled: true, File: filepath.Join(dir, "missing.rego")}
	_, err = missing.Modules()
	require.Error(t, err)
}

func TestDLPConfig_CustomRules(t *testing.T) {
	rules := []dlp.Rule{{Name: "token", Pattern: `tok_[a-z]+`, Action: dlp.ActionRedact}}
	cfg := DLPConfig{Enabled: true, Rules: rules}
	assert.Equal(t, dlp.Config{Rules: rules}, cfg.ScannerConfig())
}
