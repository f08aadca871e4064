package compose

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/types"
)

// ShutdownState represents the current state of the shutdown process
type ShutdownState string

const (
	// ShutdownStateRunning indicates modules are being served normally
	ShutdownStateRunning ShutdownState = "running"
	// ShutdownStateInitiated indicates shutdown has been initiated
	ShutdownStateInitiated ShutdownState = "initiated"
	// ShutdownStateStopping indicates modules are being stopped
	ShutdownStateStopping ShutdownState = "stopping"
	// ShutdownStateComplete indicates shutdown is complete
	ShutdownStateComplete ShutdownState = "complete"
)

// ShutdownHook is a function that can be called during shutdown
type ShutdownHook func(ctx context.Context) error

// ShutdownPhase selects when a hook runs relative to stopping the modules
type ShutdownPhase string

const (
	// ShutdownPhasePre hooks run before the broker loop is cancelled
	ShutdownPhasePre ShutdownPhase = "pre-shutdown"
	// ShutdownPhasePost hooks run after every module has been stopped
	ShutdownPhasePost ShutdownPhase = "post-shutdown"
)

// Closer is what the shutdown manager stops
type Closer interface {
	Close() error
}

// ShutdownManager turns SIGINT/SIGTERM into an orderly stop. Context is
// cancelled as soon as shutdown begins so the broker loop returns, then the
// target is closed between the pre and post hooks.
type ShutdownManager struct {
	mu              sync.RWMutex
	target          Closer
	state           ShutdownState
	shutdownTimeout time.Duration
	hooks           map[ShutdownPhase][]ShutdownHook
	logger          *logger.Logger
	signalChan      chan os.Signal
	runCtx          context.Context
	runCancel       context.CancelFunc
	stopHandler     chan struct{}
	started         bool
	completionChan  chan struct{}
	shutdownReason  string
	initiatedAt     time.Time
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(target Closer, timeout time.Duration, log *logger.Logger) *ShutdownManager {
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ShutdownManager{
		target:          target,
		state:           ShutdownStateRunning,
		shutdownTimeout: timeout,
		hooks:           make(map[ShutdownPhase][]ShutdownHook),
		logger:          log.With("component", "shutdown_manager"),
		signalChan:      make(chan os.Signal, 1),
		runCtx:          ctx,
		runCancel:       cancel,
		completionChan:  make(chan struct{}),
	}
}

// Start begins listening for shutdown signals
func (sm *ShutdownManager) Start() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.started {
		return
	}

	signals := []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	signal.Notify(sm.signalChan, signals...)

	sm.started = true
	sm.stopHandler = make(chan struct{})
	sm.logger.Debug("Shutdown manager started",
		"timeout", sm.shutdownTimeout,
		"signals", len(signals))

	go sm.handleSignals(sm.stopHandler)
}

// Stop stops listening for signals
func (sm *ShutdownManager) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.started {
		return
	}

	signal.Stop(sm.signalChan)
	close(sm.stopHandler)
	sm.started = false

	sm.logger.Debug("Shutdown manager stopped")
}

// Context is cancelled once shutdown is initiated
func (sm *ShutdownManager) Context() context.Context {
	return sm.runCtx
}

// Shutdown initiates a graceful shutdown with the specified reason
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.mu.Lock()
	if sm.state != ShutdownStateRunning {
		sm.mu.Unlock()
		return types.NewError(types.ErrCodeFailedPrecondition, "shutdown already initiated")
	}
	sm.state = ShutdownStateInitiated
	sm.shutdownReason = reason
	sm.initiatedAt = time.Now()
	sm.mu.Unlock()

	sm.logger.Info("Shutdown initiated", "reason", reason)

	shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
	defer cancel()

	if err := sm.executeHooks(shutdownCtx, ShutdownPhasePre); err != nil {
		sm.logger.Error("Pre-shutdown hooks failed", "error", err)
	}

	sm.setState(ShutdownStateStopping)
	sm.runCancel()

	var closeErr error
	if sm.target != nil {
		if closeErr = sm.target.Close(); closeErr != nil {
			sm.logger.Error("Stopping modules failed", "error", closeErr)
		}
	}

	if err := sm.executeHooks(shutdownCtx, ShutdownPhasePost); err != nil {
		sm.logger.Error("Post-shutdown hooks failed", "error", err)
	}

	sm.setState(ShutdownStateComplete)
	close(sm.completionChan)

	sm.logger.Info("Shutdown complete", "reason", reason, "duration", time.Since(sm.initiatedAt))
	return closeErr
}

// ShutdownAndWait initiates shutdown and waits for completion
func (sm *ShutdownManager) ShutdownAndWait(ctx context.Context, reason string) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- sm.Shutdown(ctx, reason)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return types.WrapError(types.ErrCodeCanceled, "shutdown wait canceled", ctx.Err())
	}
}

// AddHook registers a hook for one phase. Hooks of a phase run in
// registration order.
func (sm *ShutdownManager) AddHook(phase ShutdownPhase, hook ShutdownHook) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.hooks[phase] = append(sm.hooks[phase], hook)
	sm.logger.Debug("Shutdown hook registered", "phase", phase, "phase_hooks", len(sm.hooks[phase]))
}

// State returns the current shutdown state
func (sm *ShutdownManager) State() ShutdownState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// IsShuttingDown returns true if shutdown has been initiated
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.State() != ShutdownStateRunning
}

// IsComplete returns true if shutdown is complete
func (sm *ShutdownManager) IsComplete() bool {
	return sm.State() == ShutdownStateComplete
}

// ShutdownReason returns the reason for shutdown
func (sm *ShutdownManager) ShutdownReason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.shutdownReason
}

// WaitCompletion waits for shutdown to complete
func (sm *ShutdownManager) WaitCompletion(ctx context.Context) error {
	select {
	case <-sm.completionChan:
		return nil
	case <-ctx.Done():
		return types.WrapError(types.ErrCodeCanceled, "wait for completion canceled", ctx.Err())
	}
}

func (sm *ShutdownManager) handleSignals(stop <-chan struct{}) {
	for {
		select {
		case sig := <-sm.signalChan:
			sm.logger.Info("Shutdown signal received", "signal", sig)
			if sm.IsShuttingDown() {
				continue
			}

			reason := fmt.Sprintf("signal received: %s", sig)
			go func() {
				// allow the hooks and the module stop timeout to both run out
				ctx, cancel := context.WithTimeout(context.Background(), 2*sm.shutdownTimeout)
				defer cancel()
				if err := sm.ShutdownAndWait(ctx, reason); err != nil {
					sm.logger.Error("Shutdown failed", "error", err)
				}
			}()

		case <-stop:
			return
		}
	}
}

func (sm *ShutdownManager) executeHooks(ctx context.Context, phase ShutdownPhase) error {
	sm.mu.RLock()
	hooks := make([]ShutdownHook, len(sm.hooks[phase]))
	copy(hooks, sm.hooks[phase])
	sm.mu.RUnlock()

	sm.logger.Debug("Executing shutdown hooks", "phase", phase, "count", len(hooks))

	var errs []error
	for i, hook := range hooks {
		hookCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		hookName := fmt.Sprintf("%s-%d", phase, i)

		func() {
			defer cancel()
			if err := hook(hookCtx); err != nil {
				sm.logger.Error("Shutdown hook failed",
					"phase", phase,
					"hook", hookName,
					"error", err)
				errs = append(errs, err)
			}
		}()

		select {
		case <-ctx.Done():
			sm.logger.Warn("Shutdown hook execution canceled", "phase", phase)
			return types.WrapError(types.ErrCodeCanceled, "hook execution canceled", ctx.Err())
		default:
		}
	}

	if len(errs) > 0 {
		return types.WrapError(types.ErrCodePartialFailure, fmt.Sprintf("%s hooks failed", phase), errs[0])
	}
	return nil
}

func (sm *ShutdownManager) setState(state ShutdownState) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = state
	sm.logger.Debug("Shutdown state changed", "state", state)
}

// String returns a string representation of the shutdown state
func (s ShutdownState) String() string {
	return string(s)
}

// String returns a string representation of the shutdown manager
func (sm *ShutdownManager) String() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return fmt.Sprintf("ShutdownManager{state: %s, timeout: %v, hooks: %d/%d, started: %t}",
		sm.state, sm.shutdownTimeout, len(sm.hooks[ShutdownPhasePre]), len(sm.hooks[ShutdownPhasePost]), sm.started)
}
