package config

import (
	"os"
	"time"
)

const (
	// Environment variable names
	EnvConfigPath  = "NANO_COMPOSE_CONFIG"
	EnvLogLevel    = "NANO_COMPOSE_LOG_LEVEL"
	EnvLogFormat   = "NANO_COMPOSE_LOG_FORMAT"
	EnvLogOutput   = "NANO_COMPOSE_LOG_OUTPUT"
	EnvMetricsAddr = "NANO_COMPOSE_METRICS_ADDR"
)

const (
	// DefaultConfigPath is looked up in the working directory
	DefaultConfigPath = "nano_compose.yaml"

	// Default Logging settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stderr"

	// Default Broker settings
	DefaultSweepInterval = time.Second
	DefaultMaxLineBytes  = 4 << 20

	// Default Metrics settings
	DefaultMetricsAddress = "127.0.0.1:9464"
	DefaultMetricsPath    = "/metrics"

	DefaultShutdownTimeout = 10 * time.Second
)

// GetDefaultConfigPath returns the config path from the environment, or the
// default file name in the working directory
func GetDefaultConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
		Output: DefaultLogOutput,
	}
}

// DefaultBrokerConfig returns the default broker configuration
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		SweepInterval: DefaultSweepInterval,
		MaxLineBytes:  DefaultMaxLineBytes,
	}
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Address: DefaultMetricsAddress,
		Path:    DefaultMetricsPath,
	}
}
