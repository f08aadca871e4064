package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nano-cluster/nano-compose/pkg/types"
)

// AdminModule is the name of the built-in introspection module. It has no
// backing process and may not be declared in the modules section.
const AdminModule = "_admin"

// Config represents the complete configuration of a compose run
type Config struct {
	Modules         Modules       `json:"modules" yaml:"modules"`
	Logging         LoggingConfig `json:"logging" yaml:"logging"`
	Broker          BrokerConfig  `json:"broker" yaml:"broker"`
	Metrics         MetricsConfig `json:"metrics" yaml:"metrics"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ModuleConfig describes how to launch one module and whom it may talk to
type ModuleConfig struct {
	Name string            `json:"name" yaml:"-"`
	Fork ForkCommand       `json:"fork" yaml:"fork"`
	Uses []string          `json:"uses,omitempty" yaml:"uses"`
	Env  map[string]string `json:"env,omitempty" yaml:"env"`
	Dir  string            `json:"dir,omitempty" yaml:"dir"`

	// OnlyFrom restricts callers when Restricted is set. A present but null
	// or empty only_from key restricts the module to no callers at all.
	OnlyFrom   []string `json:"only_from,omitempty" yaml:"only_from"`
	Restricted bool     `json:"restricted" yaml:"-"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stdout, stderr, file path
}

// BrokerConfig tunes the message router
type BrokerConfig struct {
	// PendingTTL evicts calls that have been outstanding longer than this.
	// Zero keeps pending calls forever.
	PendingTTL    time.Duration `json:"pending_ttl" yaml:"pending_ttl"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	// RejectDuplicateIDs answers a request whose id is already outstanding
	// with xrpc.duplicate_id instead of overwriting the older entry.
	RejectDuplicateIDs bool `json:"reject_duplicate_ids" yaml:"reject_duplicate_ids"`
	MaxLineBytes       int  `json:"max_line_bytes" yaml:"max_line_bytes"`
}

// MetricsConfig contains the optional Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`
}

// Module returns the module with the given name
func (c *Config) Module(name string) (ModuleConfig, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleConfig{}, false
}

// ModuleNames returns module names in declaration order
func (c *Config) ModuleNames() []string {
	names := make([]string, 0, len(c.Modules))
	for _, m := range c.Modules {
		names = append(names, m.Name)
	}
	return names
}

// applyDefaults fills zero-valued fields
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}
	broker := DefaultBrokerConfig()
	if cfg.Broker.SweepInterval == 0 {
		cfg.Broker.SweepInterval = broker.SweepInterval
	}
	if cfg.Broker.MaxLineBytes == 0 {
		cfg.Broker.MaxLineBytes = broker.MaxLineBytes
	}
	metrics := DefaultMetricsConfig()
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = metrics.Address
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = metrics.Path
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// applyEnvOverrides applies NANO_COMPOSE_* environment variables
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvLogOutput); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Metrics.Address = v
		cfg.Metrics.Enabled = true
	}
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if len(c.Modules) == 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "at least one module must be configured")
	}

	known := make(map[string]bool, len(c.Modules)+1)
	known[AdminModule] = true
	for _, m := range c.Modules {
		switch {
		case m.Name == "":
			return types.NewError(types.ErrCodeInvalidArgument, "module name cannot be empty")
		case m.Name == AdminModule:
			return types.NewError(types.ErrCodeInvalidArgument,
				fmt.Sprintf("module name %s is reserved", AdminModule))
		case strings.Contains(m.Name, "."):
			return types.NewError(types.ErrCodeInvalidArgument,
				fmt.Sprintf("module name %q cannot contain '.'", m.Name))
		case known[m.Name]:
			return types.NewError(types.ErrCodeAlreadyExists,
				fmt.Sprintf("module %s declared more than once", m.Name))
		}
		if len(m.Fork) == 0 || m.Fork[0] == "" {
			return types.NewError(types.ErrCodeInvalidArgument,
				fmt.Sprintf("module %s: fork command cannot be empty", m.Name))
		}
		known[m.Name] = true
	}

	for _, m := range c.Modules {
		for _, callee := range m.Uses {
			if !known[callee] {
				return types.NewError(types.ErrCodeNotFound,
					fmt.Sprintf("module %s uses unknown module %s", m.Name, callee))
			}
		}
		for _, caller := range m.OnlyFrom {
			if !known[caller] || caller == AdminModule {
				return types.NewError(types.ErrCodeNotFound,
					fmt.Sprintf("module %s: only_from names unknown module %s", m.Name, caller))
			}
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log format: %s (must be json or text)", c.Logging.Format))
	}

	if c.Broker.PendingTTL < 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "broker pending_ttl cannot be negative")
	}
	if c.Broker.SweepInterval <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "broker sweep_interval must be positive")
	}
	if c.Broker.MaxLineBytes <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "broker max_line_bytes must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "shutdown timeout must be positive")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return types.NewError(types.ErrCodeInvalidArgument, "metrics path must start with '/'")
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Modules: %v, Logging: %s, Broker: %s, Metrics: %s, ShutdownTimeout: %s}",
		c.ModuleNames(), c.Logging, c.Broker, c.Metrics, c.ShutdownTimeout)
}

func (c LoggingConfig) String() string {
	return fmt.Sprintf("LoggingConfig{Level: %s, Format: %s, Output: %s}", c.Level, c.Format, c.Output)
}

func (c BrokerConfig) String() string {
	return fmt.Sprintf("BrokerConfig{PendingTTL: %s, SweepInterval: %s, RejectDuplicateIDs: %t, MaxLineBytes: %d}",
		c.PendingTTL, c.SweepInterval, c.RejectDuplicateIDs, c.MaxLineBytes)
}

func (c MetricsConfig) String() string {
	return fmt.Sprintf("MetricsConfig{Enabled: %t, Address: %s, Path: %s}", c.Enabled, c.Address, c.Path)
}
