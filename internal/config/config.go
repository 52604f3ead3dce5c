// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"xhttp-relay/internal/rewrite"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/xhttp-relay/config.toml",
	"configs/config.toml",
}

// reservedPaths are served by the relay itself and never forwarded.
var reservedPaths = []string{"/healthz", "/proxy/status"}

// Redirect policies.
const (
	RedirectManual = "manual"
	RedirectFollow = "follow"
)

// Content-encoding policies.
const (
	EncodingPreserve = "preserve"
	EncodingDecode   = "decode"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream string `kong:"short='u',help='Upstream origin URL (overrides config).',env='UPSTREAM_ORIGIN'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Rewrite  RewriteConfig  `toml:"rewrite"`
	Headers  HeadersConfig  `toml:"headers"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"`           // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"` // 0 means unlimited
	Mounts       []string        `toml:"mounts"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`

	// TrustForwardedHeaders makes the client IP come from X-Forwarded-For
	// instead of the socket peer. Enable only behind a trusted edge.
	TrustForwardedHeaders bool `toml:"trust_forwarded_headers"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	Origin             string               `toml:"origin"`
	TimeoutSeconds     int                  `toml:"timeout_seconds"`
	IdleTimeoutSeconds int                  `toml:"idle_timeout_seconds"`
	DialTimeoutSeconds int                  `toml:"dial_timeout_seconds"`
	IdleConnections    int                  `toml:"idle_connections"`
	Redirects          string               `toml:"redirects"`
	CircuitBreaker     CircuitBreakerConfig `toml:"circuit_breaker"`
}

// CircuitBreakerConfig controls the optional upstream circuit breaker.
type CircuitBreakerConfig struct {
	Enabled      bool    `toml:"enabled"`
	MinRequests  int     `toml:"min_requests"`
	FailureRatio float64 `toml:"failure_ratio"`
	OpenSeconds  int     `toml:"open_seconds"`
}

// RewriteConfig selects the path rewrite rule.
type RewriteConfig struct {
	Mode   string `toml:"mode"`
	Prefix string `toml:"prefix"`
	Target string `toml:"target"`
}

// HeadersConfig extends the built-in header policies.
type HeadersConfig struct {
	RequestDeny       []string `toml:"request_deny"`
	ResponseDeny      []string `toml:"response_deny"`
	ForwardClientInfo bool     `toml:"forward_client_info"`
	ContentEncoding   string   `toml:"content_encoding"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool     `toml:"enabled"`
	Endpoint    string   `toml:"endpoint"`
	Insecure    bool     `toml:"insecure"`
	ServiceName string   `toml:"service_name"`
	// SampleRate is nil when unset so that an explicit 0 disables sampling.
	SampleRate  *float64 `toml:"sample_rate"`
}

// Rate returns the configured sample rate, 1 when unset.
func (t TracingConfig) Rate() float64 {
	if t.SampleRate == nil {
		return 1
	}
	return *t.SampleRate
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/xhttp-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Upstream.Origin = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := validateOrigin(c.Upstream.Origin); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.idle_timeout_seconds must be non-negative; got %d", c.Upstream.IdleTimeoutSeconds)
	}
	if c.Upstream.DialTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.dial_timeout_seconds must be non-negative; got %d", c.Upstream.DialTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	cb := c.Upstream.CircuitBreaker
	if cb.MinRequests < 0 || cb.OpenSeconds < 0 {
		return fmt.Errorf("upstream.circuit_breaker.min_requests and open_seconds must be non-negative")
	}
	if cb.FailureRatio < 0 || cb.FailureRatio > 1 {
		return fmt.Errorf("upstream.circuit_breaker.failure_ratio must be within 0–1; got %v", cb.FailureRatio)
	}

	switch c.Upstream.Redirects {
	case RedirectManual, RedirectFollow, "":
	default:
		return fmt.Errorf("upstream.redirects must be one of: manual, follow; got %q", c.Upstream.Redirects)
	}

	if _, err := rewrite.New(rewrite.Mode(c.Rewrite.Mode), c.Rewrite.Prefix, c.Rewrite.Target); err != nil {
		return err
	}

	for _, m := range c.Server.Mounts {
		if m == "" || m[0] != '/' {
			return fmt.Errorf("server.mounts entries must start with '/'; got %q", m)
		}
		if isReserved(m) {
			return fmt.Errorf("server.mounts entry %q conflicts with a reserved route", m)
		}
	}

	switch c.Headers.ContentEncoding {
	case EncodingPreserve, EncodingDecode, "":
	default:
		return fmt.Errorf("headers.content_encoding must be one of: preserve, decode; got %q", c.Headers.ContentEncoding)
	}
	for _, h := range append(append([]string{}, c.Headers.RequestDeny...), c.Headers.ResponseDeny...) {
		if strings.TrimSpace(h) == "" || strings.TrimSuffix(h, "*") == "" {
			return fmt.Errorf("headers deny entries must name a header or a prefix; got %q", h)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if isReserved(p) {
			return fmt.Errorf("metrics.path %q conflicts with a reserved route", p)
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if r := c.Tracing.Rate(); r < 0 || r > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]; got %v", r)
	}

	return nil
}

// validateOrigin checks that origin is an absolute http(s) URL without path or query.
func validateOrigin(origin string) error {
	if origin == "" {
		return fmt.Errorf("upstream.origin is required")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("upstream.origin is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.origin must use http or https; got %q", origin)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.origin must include a host; got %q", origin)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("upstream.origin must be scheme://host[:port] only; use [rewrite] for upstream paths; got %q", origin)
	}
	return nil
}

func isReserved(p string) bool {
	for _, reserved := range reservedPaths {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return true
		}
	}
	return false
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.Mounts) == 0 {
		c.Server.Mounts = []string{"/"}
	}
	for i, m := range c.Server.Mounts {
		if m = strings.TrimRight(m, "/"); m == "" {
			m = "/"
		}
		c.Server.Mounts[i] = m
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleTimeoutSeconds == 0 {
		c.Upstream.IdleTimeoutSeconds = 120
	}
	if c.Upstream.DialTimeoutSeconds == 0 {
		c.Upstream.DialTimeoutSeconds = 10
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.Redirects == "" {
		c.Upstream.Redirects = RedirectManual
	}
	if c.Upstream.CircuitBreaker.MinRequests == 0 {
		c.Upstream.CircuitBreaker.MinRequests = 10
	}
	if c.Upstream.CircuitBreaker.FailureRatio == 0 {
		c.Upstream.CircuitBreaker.FailureRatio = 0.5
	}
	if c.Upstream.CircuitBreaker.OpenSeconds == 0 {
		c.Upstream.CircuitBreaker.OpenSeconds = 30
	}
	if c.Rewrite.Mode == "" {
		c.Rewrite.Mode = string(rewrite.Identity)
	}
	if c.Headers.ContentEncoding == "" {
		c.Headers.ContentEncoding = EncodingPreserve
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "xhttp-relay"
	}
	if c.Tracing.SampleRate == nil {
		rate := 1.0
		c.Tracing.SampleRate = &rate
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the response-header timeout.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IdleTimeout returns the body-transfer idle timeout.
func (c *UpstreamConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// DialTimeout returns the TCP dial timeout.
func (c *UpstreamConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
