package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"codelab-exec/internal/sandbox"
	"codelab-exec/internal/validator"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Limits    LimitsConfig    `yaml:"limits"`
	Validator ValidatorConfig `yaml:"validator"`
	Harness   HarnessConfig   `yaml:"harness"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Security  SecurityConfig  `yaml:"security"`
	TLS       TLSConfig       `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type SandboxConfig struct {
	Backend          string        `yaml:"backend"` // "auto" (default), "containerd", or "docker"
	ContainerdSocket string        `yaml:"containerd_socket"`
	Namespace        string        `yaml:"namespace"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	AdmissionPolicy  string        `yaml:"admission_policy"` // "queue" (default) or "reject"
	QueueWait        time.Duration `yaml:"queue_wait"`
	ProvisionRetries int           `yaml:"provision_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	KillGrace        time.Duration `yaml:"kill_grace"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SandboxTTL       time.Duration `yaml:"sandbox_ttl"`
	AllowNetwork     bool          `yaml:"allow_network"` // global switch; requests opt in per-run
}

// LimitsConfig carries the per-request defaults and the hard ceilings.
type LimitsConfig struct {
	Defaults sandbox.ResourceLimits `yaml:"defaults"`
	Maxima   sandbox.ResourceLimits `yaml:"maxima"`
}

type ValidatorConfig struct {
	MaxCodeLength int    `yaml:"max_code_length"`
	BlockSeverity string `yaml:"block_severity"` // minimum severity that rejects a submission
}

type HarnessConfig struct {
	CaseTimeout   time.Duration `yaml:"case_timeout"`
	StopOnFailure bool          `yaml:"stop_on_failure"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second, // > max execution timeout + test budget + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Sandbox: SandboxConfig{
			Backend:          "auto",
			ContainerdSocket: "/run/containerd/containerd.sock",
			Namespace:        "codelab",
			MaxConcurrent:    100,
			AdmissionPolicy:  "queue",
			QueueWait:        5 * time.Second,
			ProvisionRetries: 2,
			RetryBackoff:     200 * time.Millisecond,
			KillGrace:        2 * time.Second,
			SweepInterval:    time.Minute,
			SandboxTTL:       5 * time.Minute,
			AllowNetwork:     false,
		},
		Limits: LimitsConfig{
			Defaults: sandbox.DefaultLimits(),
			Maxima:   sandbox.MaxLimits(),
		},
		Validator: ValidatorConfig{
			MaxCodeLength: 50000,
			BlockSeverity: "critical",
		},
		Harness: HarnessConfig{
			CaseTimeout:   5 * time.Second,
			StopOnFailure: false,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Sandbox.Backend {
	case "auto", "containerd", "docker":
	default:
		return fmt.Errorf("sandbox.backend must be auto, containerd, or docker, got %q", c.Sandbox.Backend)
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 1")
	}
	switch c.Sandbox.AdmissionPolicy {
	case "queue", "reject":
	default:
		return fmt.Errorf("sandbox.admission_policy must be queue or reject, got %q", c.Sandbox.AdmissionPolicy)
	}
	if err := c.Limits.Defaults.Validate(); err != nil {
		return fmt.Errorf("limits.defaults: %w", err)
	}
	if err := c.Limits.Maxima.Validate(); err != nil {
		return fmt.Errorf("limits.maxima: %w", err)
	}
	if c.Limits.Defaults.Timeout > c.Limits.Maxima.Timeout {
		return fmt.Errorf("limits.defaults.timeout (%s) must be <= limits.maxima.timeout (%s)",
			c.Limits.Defaults.Timeout, c.Limits.Maxima.Timeout)
	}
	if c.Limits.Defaults.MemoryBytes > c.Limits.Maxima.MemoryBytes {
		return fmt.Errorf("limits.defaults.memory_bytes must be <= limits.maxima.memory_bytes")
	}
	if c.Validator.MaxCodeLength < 1 {
		return fmt.Errorf("validator.max_code_length must be >= 1")
	}
	switch strings.ToLower(c.Validator.BlockSeverity) {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("validator.block_severity must be low, medium, high, or critical, got %q", c.Validator.BlockSeverity)
	}
	if c.Harness.CaseTimeout <= 0 {
		return fmt.Errorf("harness.case_timeout must be > 0")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// BlockSeverity parses the configured rejection threshold.
func (c *Config) BlockSeverity() validator.Severity {
	return validator.ParseSeverity(c.Validator.BlockSeverity)
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
