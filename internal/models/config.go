// Package models - Service configuration and operational settings.
// This file defines the configuration structures for all gateway components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, storage, security, etc.)
// - Environment-friendly defaults that work out of the box
// - Comprehensive validation to catch misconfigurations early
// - Security-first approach with safe defaults
package models

import (
	"errors"
	"fmt"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Storage       StorageConfig       `yaml:"storage" json:"storage"`             // Audit store persistence
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Admission control and breaker
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Prometheus metrics endpoint
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing and service identity
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type SecurityConfig struct {
	APIKeys   []APIKey        `yaml:"api_keys" json:"api_keys"`
	Admission AdmissionConfig `yaml:"admission" json:"admission"`
	Breaker   BreakerConfig   `yaml:"breaker" json:"breaker"`
}

// APIKey identifies an authenticated caller for policy selection. The
// gateway does not implement sessions or account auth; a key only maps a
// caller onto a policy class.
type APIKey struct {
	Key     string `yaml:"key" json:"key"`
	Name    string `yaml:"name" json:"name"`
	Role    string `yaml:"role" json:"role"` // "authenticated" or "admin"
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// AdmissionConfig controls the sliding-window rate limiter and its blocking
// tiers.
type AdmissionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Whitelist lists addresses exempt from every admission check.
	Whitelist []string `yaml:"whitelist" json:"whitelist"`

	// SuspiciousThreshold is the per-IP request count within one minute
	// that flags an address as abusive.
	SuspiciousThreshold int `yaml:"suspicious_threshold" json:"suspicious_threshold"`

	// SuspiciousBlockDuration is how long a flagged address stays blocked.
	SuspiciousBlockDuration time.Duration `yaml:"suspicious_block_duration" json:"suspicious_block_duration"`

	// ViolationLimit is the number of rate-limit violations after which an
	// address is blocked for the policy's block duration.
	ViolationLimit int `yaml:"violation_limit" json:"violation_limit"`

	// MaxTrackedKeys bounds each internal cache.
	MaxTrackedKeys int `yaml:"max_tracked_keys" json:"max_tracked_keys"`

	// CleanupInterval is the period of the background sweep.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// GlobalRPS and GlobalBurst cap process-wide throughput ahead of the
	// per-key limits. Zero disables the ceiling.
	GlobalRPS   float64 `yaml:"global_rps" json:"global_rps"`
	GlobalBurst int     `yaml:"global_burst" json:"global_burst"`

	// Policies maps "<caller>:<route>" pairs to budgets, overriding the
	// built-in defaults.
	Policies map[string]PolicyConfig `yaml:"policies" json:"policies"`
}

// PolicyConfig is one rate-limit budget: Points requests per Duration, with
// repeat offenders blocked for BlockDuration. Immutable after load.
type PolicyConfig struct {
	Points        int           `yaml:"points" json:"points"`
	Duration      time.Duration `yaml:"duration" json:"duration"`
	BlockDuration time.Duration `yaml:"block_duration" json:"block_duration"`
}

// BreakerConfig controls the circuit breaker guarding the audit store.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // "stdout" or "otlp"
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - 30-second timeouts: Balance between user experience and resource protection
// - Memory storage: Simple setup without external dependencies
// - Admission control enabled: Prevent abuse from the start
// - Structured logging: Better for log aggregation and analysis
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			APIKeys: []APIKey{},
			Admission: AdmissionConfig{
				Enabled:                 true,
				Whitelist:               []string{"127.0.0.1", "::1"},
				SuspiciousThreshold:     200,
				SuspiciousBlockDuration: 30 * time.Minute,
				ViolationLimit:          10,
				MaxTrackedKeys:          10000,
				CleanupInterval:         2 * time.Minute,
				Policies:                map[string]PolicyConfig{},
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     60 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "storegate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		// Memory storage requires no additional configuration
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", stc.Type)
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.Admission.Enabled {
		if sec.Admission.SuspiciousThreshold <= 0 {
			return errors.New("suspicious threshold must be positive")
		}
		if sec.Admission.ViolationLimit <= 0 {
			return errors.New("violation limit must be positive")
		}
		if sec.Admission.MaxTrackedKeys <= 0 {
			return errors.New("max tracked keys must be positive")
		}
		if sec.Admission.GlobalRPS < 0 {
			return errors.New("global rps cannot be negative")
		}
		for name, p := range sec.Admission.Policies {
			if p.Points <= 0 || p.Duration <= 0 {
				return fmt.Errorf("policy %q must have positive points and duration", name)
			}
		}
	}

	if sec.Breaker.FailureThreshold < 0 {
		return errors.New("breaker failure threshold cannot be negative")
	}
	if sec.Breaker.ResetTimeout < 0 {
		return errors.New("breaker reset timeout cannot be negative")
	}

	for _, apiKey := range sec.APIKeys {
		if apiKey.Key == "" {
			return errors.New("API key cannot be empty")
		}
		if apiKey.Name == "" {
			return errors.New("API key name cannot be empty")
		}
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

// KeyFor returns the enabled API key matching value, if any.
func (sec *SecurityConfig) KeyFor(value string) (APIKey, bool) {
	if value == "" {
		return APIKey{}, false
	}
	for _, ak := range sec.APIKeys {
		if ak.Enabled && ak.Key == value {
			return ak, true
		}
	}
	return APIKey{}, false
}

// RoleFor returns the policy class for an API key value, or "anonymous" when
// the key is unknown or disabled.
func (sec *SecurityConfig) RoleFor(key string) string {
	ak, ok := sec.KeyFor(key)
	if !ok {
		return "anonymous"
	}
	if ak.Role != "" {
		return ak.Role
	}
	return "authenticated"
}
