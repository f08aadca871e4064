// Package compose boots a set of modules from configuration, connects them
// to a broker and tears everything down again.
package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nano-cluster/nano-compose/internal/config"
	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/broker"
	"github.com/nano-cluster/nano-compose/pkg/capability"
	"github.com/nano-cluster/nano-compose/pkg/metrics"
	"github.com/nano-cluster/nano-compose/pkg/stats"
	"github.com/nano-cluster/nano-compose/pkg/supervisor"
	"github.com/nano-cluster/nano-compose/pkg/types"
)

// Compose owns the broker, the module processes and the optional metrics
// server of one run
type Compose struct {
	cfg    *config.Config
	logger *logger.Logger

	graph   *capability.Graph
	stats   *stats.Stats
	broker  *broker.Broker
	metrics *metrics.Server

	// Stderr receives module standard error. Nil means the broker's own.
	stderr io.Writer

	mu        sync.Mutex
	status    types.Status
	processes []*supervisor.Process

	closeOnce sync.Once
	closeErr  error
}

// Option adjusts a Compose before it starts
type Option func(*Compose)

// WithModuleStderr sends the standard error of every module to w
func WithModuleStderr(w io.Writer) Option {
	return func(c *Compose) {
		c.stderr = w
	}
}

// New validates cfg and prepares the broker. No process is started yet.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Compose, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidArgument, "invalid configuration", err)
	}
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	c := &Compose{
		cfg:    cfg,
		logger: log.With("component", "compose"),
		graph:  capability.FromConfig(cfg),
		stats:  stats.New(),
		status: types.StatusUnknown,
	}
	for _, opt := range opts {
		opt(c)
	}

	b, err := broker.New(c.graph, cfg.Broker, c.stats, log)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to create broker", err)
	}
	c.broker = b

	if cfg.Metrics.Enabled {
		srv, err := metrics.NewServer(cfg.Metrics, c.stats, log)
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create metrics server", err)
		}
		c.metrics = srv
	}

	return c, nil
}

// Graph returns the capability graph built from configuration
func (c *Compose) Graph() *capability.Graph {
	return c.graph
}

// Stats returns the broker counters
func (c *Compose) Stats() *stats.Stats {
	return c.stats
}

// Metrics returns the metrics server, or nil when disabled
func (c *Compose) Metrics() *metrics.Server {
	return c.metrics
}

// Status returns the lifecycle state of the run
func (c *Compose) Status() types.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Processes returns the started module processes in start order
func (c *Compose) Processes() []*supervisor.Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*supervisor.Process, len(c.processes))
	copy(out, c.processes)
	return out
}

// ReportStats logs a summary of the call counters: calls routed, failed
// calls, calls still outstanding and dropped lines. It has the ShutdownHook
// signature so it can run after the modules are stopped.
func (c *Compose) ReportStats(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.ErrCodeCanceled, "stats report canceled", err)
	}

	snap := c.stats.Snapshot()
	var calls, failed, outstanding, dropped int64
	for method, n := range snap.Total.Method {
		calls += n
		failed += snap.Err.Method[method]
		outstanding += snap.Balance.Method[method]
	}
	for _, n := range snap.Dropped {
		dropped += n
	}

	c.logger.Info("Call statistics",
		"methods", len(snap.Total.Method),
		"calls", calls,
		"failed", failed,
		"outstanding", outstanding,
		"dropped", dropped)
	return nil
}

// Start launches every module in declaration order and attaches it to the
// broker. On failure modules already started are stopped again.
func (c *Compose) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != types.StatusUnknown {
		c.mu.Unlock()
		return types.NewError(types.ErrCodeFailedPrecondition, fmt.Sprintf("compose is %s", c.status))
	}
	c.status = types.StatusStarting
	c.mu.Unlock()

	for _, mod := range c.cfg.Modules {
		if err := ctx.Err(); err != nil {
			c.abort()
			return types.WrapError(types.ErrCodeCanceled, "start canceled", err)
		}

		p, err := supervisor.Start(supervisor.Spec{
			Name:    mod.Name,
			Command: mod.Fork,
			Env:     mod.Env,
			Dir:     mod.Dir,
			Stderr:  c.stderr,
		}, c.logger)
		if err != nil {
			c.abort()
			return err
		}

		c.mu.Lock()
		c.processes = append(c.processes, p)
		c.mu.Unlock()

		if err := c.broker.Attach(mod.Name, p.Reader(), p.Writer()); err != nil {
			c.abort()
			return types.WrapError(types.ErrCodeInternal, fmt.Sprintf("failed to attach module %s", mod.Name), err)
		}
	}

	if c.metrics != nil {
		if err := c.metrics.Start(); err != nil {
			c.abort()
			return err
		}
	}

	c.mu.Lock()
	c.status = types.StatusRunning
	c.mu.Unlock()

	c.logger.Info("Modules started", "count", len(c.cfg.Modules))
	return nil
}

func (c *Compose) abort() {
	if err := c.Close(); err != nil {
		c.logger.Error("Cleanup after failed start", "error", err)
	}
}

// Run starts the modules when needed and routes messages until ctx is
// cancelled or every module has exited. Everything is torn down before it
// returns.
func (c *Compose) Run(ctx context.Context) error {
	if c.Status() == types.StatusUnknown {
		if err := c.Start(ctx); err != nil {
			return err
		}
	}

	runErr := c.broker.Run(ctx)
	if err := c.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close stops the broker, every module and the metrics server. Modules get
// SIGTERM and are killed once the shutdown timeout expires. Safe to call
// more than once; later calls return the first result.
func (c *Compose) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close()
	})
	return c.closeErr
}

func (c *Compose) close() error {
	timeout := c.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	started := time.Now()
	c.broker.Close()

	processes := c.Processes()
	errs := make([]error, len(processes))
	var wg sync.WaitGroup
	for i, p := range processes {
		wg.Add(1)
		go func(i int, p *supervisor.Process) {
			defer wg.Done()
			errs[i] = p.Stop(ctx)
		}(i, p)
	}
	wg.Wait()

	for _, p := range processes {
		if err := p.Close(); err != nil {
			c.logger.Debug("Closing module pipes", "module", p.Name(), "error", err)
		}
	}
	c.broker.Wait()

	if c.metrics != nil {
		if err := c.metrics.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.status = types.StatusDown
	c.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Warn("Compose stopped with errors", "duration", time.Since(started), "error", err)
		return types.WrapError(types.ErrCodePartialFailure, "not every module stopped cleanly", err)
	}
	c.logger.Info("Compose stopped", "duration", time.Since(started), "modules", len(processes))
	return nil
}
