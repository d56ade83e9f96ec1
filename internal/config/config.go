// Package config loads service configuration from a YAML file and
// environment variables, starting from the defaults in models.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"storegate/internal/models"
)

// Load loads configuration from file and environment variables. The file is
// optional; environment variables override file values; the final result is
// validated before use.
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("STOREGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("STOREGATE_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("STOREGATE_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("STOREGATE_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("STOREGATE_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if tls := os.Getenv("STOREGATE_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("STOREGATE_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("STOREGATE_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Storage configuration
	if storageType := os.Getenv("STOREGATE_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}

	if dsn := os.Getenv("STOREGATE_DATABASE_DSN"); dsn != "" {
		config.Storage.Database.DSN = dsn
	}

	if maxOpen := os.Getenv("STOREGATE_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Storage.Database.MaxOpenConns = conns
		}
	}

	// Admission configuration
	if enabled := os.Getenv("STOREGATE_ADMISSION_ENABLED"); enabled != "" {
		config.Security.Admission.Enabled = strings.ToLower(enabled) == "true"
	}

	if whitelist := os.Getenv("STOREGATE_ADMISSION_WHITELIST"); whitelist != "" {
		config.Security.Admission.Whitelist = splitAndTrim(whitelist)
	}

	if threshold := os.Getenv("STOREGATE_SUSPICIOUS_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			config.Security.Admission.SuspiciousThreshold = n
		}
	}

	if d := os.Getenv("STOREGATE_SUSPICIOUS_BLOCK_DURATION"); d != "" {
		if dur, err := time.ParseDuration(d); err == nil {
			config.Security.Admission.SuspiciousBlockDuration = dur
		}
	}

	if limit := os.Getenv("STOREGATE_VIOLATION_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Security.Admission.ViolationLimit = n
		}
	}

	if keys := os.Getenv("STOREGATE_MAX_TRACKED_KEYS"); keys != "" {
		if n, err := strconv.Atoi(keys); err == nil {
			config.Security.Admission.MaxTrackedKeys = n
		}
	}

	if interval := os.Getenv("STOREGATE_CLEANUP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Security.Admission.CleanupInterval = d
		}
	}

	if rps := os.Getenv("STOREGATE_GLOBAL_RPS"); rps != "" {
		if f, err := strconv.ParseFloat(rps, 64); err == nil {
			config.Security.Admission.GlobalRPS = f
		}
	}

	if burst := os.Getenv("STOREGATE_GLOBAL_BURST"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil {
			config.Security.Admission.GlobalBurst = n
		}
	}

	// Breaker configuration
	if threshold := os.Getenv("STOREGATE_BREAKER_FAILURE_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			config.Security.Breaker.FailureThreshold = n
		}
	}

	if timeout := os.Getenv("STOREGATE_BREAKER_RESET_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Security.Breaker.ResetTimeout = d
		}
	}

	// Logging configuration
	if level := os.Getenv("STOREGATE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("STOREGATE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("STOREGATE_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("STOREGATE_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("STOREGATE_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("STOREGATE_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("STOREGATE_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}

	// Observability configuration
	if name := os.Getenv("STOREGATE_SERVICE_NAME"); name != "" {
		config.Observability.ServiceName = name
	}

	if tracing := os.Getenv("STOREGATE_TRACING_ENABLED"); tracing != "" {
		config.Observability.Tracing.Enabled = strings.ToLower(tracing) == "true"
	}

	if endpoint := os.Getenv("STOREGATE_OTLP_ENDPOINT"); endpoint != "" {
		config.Observability.Tracing.OTLPEndpoint = endpoint
		config.Observability.Tracing.Exporter = "otlp"
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
