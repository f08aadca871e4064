package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/nano-cluster/nano-compose/internal/config"
	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/compose"
	"github.com/nano-cluster/nano-compose/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	cfgFile     string
	logLevel    string
	logFormat   string
	logOutput   string
	metricsAddr string

	rootLog *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nano-compose",
	Short: "nano-compose - JSON-line RPC broker for a set of module processes",
	Long: `nano-compose starts every module declared in its configuration file as a
child process and routes newline-delimited JSON calls between them over their
standard input and output.

Each module declares which modules it uses and, optionally, which modules it
accepts calls from. Calls outside that graph are refused by the broker with
an xrpc.forbidden error and never reach the callee. The built-in _admin module
answers _admin.get_stats with per-method call counters.`,
	Version:       compose.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runCompose,
}

// runCompose starts the modules and routes messages until they all exit or a
// shutdown signal arrives
func runCompose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer rootLog.Close()

	rootLog.Info("Starting nano-compose",
		"version", compose.GetVersion(),
		"modules", len(cfg.Modules),
		"config", configPath())

	c, err := compose.New(cfg, rootLog)
	if err != nil {
		return err
	}

	shutdown := compose.NewShutdownManager(c, cfg.ShutdownTimeout, rootLog)
	shutdown.AddHook(compose.ShutdownPhasePost, c.ReportStats)
	shutdown.Start()
	defer shutdown.Stop()

	runErr := c.Run(shutdown.Context())

	if shutdown.IsShuttingDown() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdown.WaitCompletion(ctx); err != nil {
			rootLog.Error("Shutdown did not complete", "error", err)
		}
	} else if err := c.ReportStats(context.Background()); err != nil {
		rootLog.Warn("Failed to report call statistics", "error", err)
	}

	if runErr != nil {
		rootLog.Error("nano-compose stopped with errors", "error", runErr, "error_code", types.GetErrorCode(runErr))
		return runErr
	}
	rootLog.Info("nano-compose stopped")
	return nil
}

// initLogger initializes the global logger from config with CLI overrides
// already applied
func initLogger(cfg config.LoggingConfig) error {
	log, err := logger.New(cfg)
	if err != nil {
		return err
	}

	rootLog = log
	logger.SetGlobal(log)
	return nil
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath()
}

// loadConfig loads the configuration file and applies CLI overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if logOutput != "" {
		cfg.Logging.Output = logOutput
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nano-compose: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration and usage errors and 1 for everything else
func exitCode(err error) int {
	switch types.GetErrorCode(err) {
	case types.ErrCodeInvalidArgument, types.ErrCodeInvalid, types.ErrCodeNotFound:
		return 2
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		fmt.Sprintf("Config file path (default: $%s or %s)", config.EnvConfigPath, config.DefaultConfigPath))

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: json, text (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "",
		"Log output: stderr, stdout, or file path (default: from config or env)")

	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address (enables metrics)")
}
