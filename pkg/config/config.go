// Package config provides configuration structures and loading logic for the
// dispatch service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-dispatch/pkg/domain"
	"github.com/polisai/polis-dispatch/pkg/policy/dlp"
)

// Config holds the global configuration for the dispatch service.
type Config struct {
	Server          ServerConfig                `yaml:"server"`
	Telemetry       TelemetryConfig             `yaml:"telemetry"`
	Logging         LoggingConfig               `yaml:"logging"`
	Routing         RoutingConfig               `yaml:"routing"`
	RateLimits      []domain.RateLimitRule      `yaml:"rate_limits"`
	CircuitBreakers []domain.CircuitBreakerRule `yaml:"circuit_breakers"`
	Policy          PolicyConfig                `yaml:"policy"`
	DLP             DLPConfig                   `yaml:"dlp"`
	Usage           UsageConfig                 `yaml:"usage"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	TLS             *TLSConfig    `yaml:"tls,omitempty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SampleRatio  float64 `yaml:"sample_ratio"`
	// Redactions maps span attribute keys to a redaction strategy.
	Redactions map[string]string `yaml:"redactions"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RoutingConfig controls name resolution and the statically declared routes.
type RoutingConfig struct {
	NamePaths []string      `yaml:"name_paths"`
	Routes    []RouteConfig `yaml:"routes"`
	// FallbackSpeech is spoken when no route accepts a request. Empty disables
	// the fallback and the request fails with a 404.
	FallbackSpeech string `yaml:"fallback_speech"`
}

// RouteConfig declares one static route.
type RouteConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Speech      string `yaml:"speech" validate:"required"`
	Reprompt    string `yaml:"reprompt"`
	CardTitle   string `yaml:"card_title"`
	CardContent string `yaml:"card_content"`
	EndSession  bool   `yaml:"end_session"`
	Status      int    `yaml:"status" validate:"omitempty,gte=100,lte=599"`
}

// PolicyConfig configures the OPA request filter.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`
	// File is a rego file, resolved relative to the configuration file.
	File string `yaml:"file"`
	// Module is inline rego, used when File is empty.
	Module          string `yaml:"module"`
	Entrypoint      string `yaml:"entrypoint"`
	FailOpen        bool   `yaml:"fail_open"`
	CacheMaxEntries int    `yaml:"cache_max_entries"`
}

// DLPConfig configures response redaction. Enabling it without rules selects the
// built-in rule set.
type DLPConfig struct {
	Enabled bool       `yaml:"enabled"`
	Rules   []dlp.Rule `yaml:"rules"`
}

// UsageConfig configures usage persistence.
type UsageConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

const (
	defaultAddress         = ":8080"
	defaultRequestTimeout  = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxBodyBytes    = 1 << 20
	defaultServiceName     = "polis-dispatch"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         defaultAddress,
			RequestTimeout:  defaultRequestTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
			MaxBodyBytes:    defaultMaxBodyBytes,
		},
		Telemetry: TelemetryConfig{
			ServiceName: defaultServiceName,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Usage: UsageConfig{
			Driver: "sqlite",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg, err := parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Environment
// overrides are not applied.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data, "")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte, baseDir string) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Policy.File != "" && baseDir != "" && !filepath.IsAbs(cfg.Policy.File) {
		cfg.Policy.File = filepath.Join(baseDir, cfg.Policy.File)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("DISPATCH_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("DISPATCH_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}

	if val := os.Getenv("DISPATCH_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("DISPATCH_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("DISPATCH_SAMPLE_RATIO"); val != "" {
		if ratio, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.SampleRatio = ratio
		}
	}

	if val := os.Getenv("DISPATCH_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("DISPATCH_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("DISPATCH_POLICY_FILE"); val != "" {
		cfg.Policy.File = val
		cfg.Policy.Enabled = true
	}

	if val := os.Getenv("DISPATCH_USAGE_DRIVER"); val != "" {
		cfg.Usage.Driver = val
		cfg.Usage.Enabled = true
	}
	if val := os.Getenv("DISPATCH_USAGE_DSN"); val != "" {
		cfg.Usage.DSN = val
	}

	// TLS environment overrides
	if val := os.Getenv("DISPATCH_TLS_CERT_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.Enabled = true
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("DISPATCH_TLS_KEY_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.KeyFile = val
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate performs validation of the entire configuration. Every error wraps
// domain.ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("%w: server configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Routing.Validate(); err != nil {
		return fmt.Errorf("%w: routing configuration: %w", domain.ErrConfigInvalid, err)
	}
	for i, rule := range c.RateLimits {
		if err := validate.Struct(rule); err != nil {
			return fmt.Errorf("%w: rate limit %d: %w", domain.ErrConfigInvalid, i, err)
		}
	}
	for i, rule := range c.CircuitBreakers {
		if err := validate.Struct(rule); err != nil {
			return fmt.Errorf("%w: circuit breaker %d: %w", domain.ErrConfigInvalid, i, err)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: policy configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Usage.Validate(); err != nil {
		return fmt.Errorf("%w: usage configuration: %w", domain.ErrConfigInvalid, err)
	}
	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = defaultAddress
	}
	if c.RequestTimeout < 0 {
		return NewConfigValidationError("request_timeout", c.RequestTimeout, "must not be negative")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = defaultServiceName
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return NewConfigValidationError("sample_ratio", c.SampleRatio, "must be between 0 and 1")
	}
	for key, strategy := range c.Redactions {
		switch strings.ToLower(strategy) {
		case "drop", "mask", "hash", "replace", "redact":
		default:
			return NewConfigValidationError("redactions."+key, strategy, "unknown redaction strategy").
				WithSuggestion("Use one of: drop, mask, hash, redact")
		}
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	// Set default log level if not provided
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}
	return nil
}

// Validate checks every route and rejects duplicate names.
func (c *RoutingConfig) Validate() error {
	seen := make(map[string]bool, len(c.Routes))
	for i, route := range c.Routes {
		if err := validate.Struct(route); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
		if seen[route.Name] {
			return NewConfigValidationError("routes", route.Name, "duplicate route name")
		}
		seen[route.Name] = true
	}
	return nil
}

// Validate performs validation of policy configuration
func (c *PolicyConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.File) == "" && strings.TrimSpace(c.Module) == "" {
		return NewConfigMissingError("policy.file").
			WithSuggestion("Set policy.file to a rego file or policy.module to inline rego")
	}
	return nil
}

// Modules returns the rego sources keyed by module name.
func (c *PolicyConfig) Modules() (map[string]string, error) {
	if c.File == "" {
		return map[string]string{"inline.rego": c.Module}, nil
	}
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(c.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return map[string]string{filepath.Base(c.File): string(data)}, nil
}

// Validate performs validation of usage configuration
func (c *UsageConfig) Validate() error {
	driver := strings.TrimSpace(strings.ToLower(c.Driver))
	switch driver {
	case "":
		c.Driver = "sqlite"
	case "sqlite", "memory":
		c.Driver = driver
	case "postgres":
		c.Driver = driver
		if c.Enabled && strings.TrimSpace(c.DSN) == "" {
			return NewConfigMissingError("usage.dsn")
		}
	default:
		return NewConfigValidationError("usage.driver", c.Driver, "unsupported driver").
			WithSuggestion("Use one of: sqlite, postgres, memory")
	}
	return nil
}

// ScannerConfig returns the DLP rules, falling back to the built-in rule set.
func (c *DLPConfig) ScannerConfig() dlp.Config {
	if len(c.Rules) == 0 {
		return dlp.DefaultConfig()
	}
	return dlp.Config{Rules: c.Rules}
}
