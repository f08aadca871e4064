package compose

import (
	"context"
	"time"

	"github.com/nano-cluster/nano-compose/internal/config"
	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/types"
)

// DefaultVersion is reported when the binary was built without a version
const DefaultVersion = "0.1.0"

// Version is overridden at link time with -ldflags "-X ...compose.Version=..."
var Version = ""

// GetVersion returns the build version
func GetVersion() string {
	if Version != "" {
		return Version
	}
	return DefaultVersion
}

// BootstrapResult contains the result of a bootstrap operation
type BootstrapResult struct {
	Compose   *Compose
	StartedAt time.Time
	Duration  time.Duration
	Version   string
}

// BootstrapConfig contains configuration for the bootstrap process
type BootstrapConfig struct {
	Config  *config.Config
	Logger  *logger.Logger
	Options []Option
}

// Bootstrap builds a Compose from configuration and starts every module.
// On error nothing is left running.
func Bootstrap(ctx context.Context, cfg BootstrapConfig) (*BootstrapResult, error) {
	startedAt := time.Now()

	c, err := New(cfg.Config, cfg.Logger, cfg.Options...)
	if err != nil {
		return nil, err
	}

	if err := c.Start(ctx); err != nil {
		return nil, types.WrapError(types.ErrCodeUnavailable, "failed to start modules", err)
	}

	result := &BootstrapResult{
		Compose:   c,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Version:   GetVersion(),
	}
	c.logger.Info("Compose bootstrapped",
		"version", result.Version,
		"modules", len(c.cfg.Modules),
		"duration", result.Duration)

	return result, nil
}
