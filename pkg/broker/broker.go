package broker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nano-cluster/nano-compose/internal/config"
	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/capability"
	"github.com/nano-cluster/nano-compose/pkg/stats"
	"github.com/nano-cluster/nano-compose/pkg/types"
)

// Broker routes JSON-line calls between attached modules
type Broker struct {
	graph  *capability.Graph
	stats  *stats.Stats
	cfg    config.BrokerConfig
	logger *logger.Logger
	now    func() time.Time

	// owned by the event loop once Run starts
	modules map[string]*endpoint
	pending *pendingTable

	events   chan event
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	readers  sync.WaitGroup
}

// endpoint is the broker's view of one attached module
type endpoint struct {
	name   string
	w      io.Writer
	status types.Status
}

type eventKind int

const (
	eventLine eventKind = iota
	eventTooLong
	eventTruncated
	eventClosed
)

// event is produced by a reader goroutine and consumed by the loop
type event struct {
	kind   eventKind
	module string
	line   []byte
	err    error
}

// New creates a broker. A nil stats or logger gets a fresh default.
func New(graph *capability.Graph, cfg config.BrokerConfig, st *stats.Stats, log *logger.Logger) (*Broker, error) {
	if graph == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "capability graph is required")
	}
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}
	if st == nil {
		st = stats.New()
	}
	defaults := config.DefaultBrokerConfig()
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaults.MaxLineBytes
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}

	return &Broker{
		graph:   graph,
		stats:   st,
		cfg:     cfg,
		logger:  log.With("component", "broker"),
		now:     time.Now,
		modules: make(map[string]*endpoint),
		pending: newPendingTable(),
		events:  make(chan event),
		stop:    make(chan struct{}),
	}, nil
}

// Stats returns the counters the broker updates
func (b *Broker) Stats() *stats.Stats {
	return b.stats
}

// Attach connects a module's output stream r and input stream w. It must be
// called before Run. The reader goroutine starts immediately but blocks until
// the loop is running.
func (b *Broker) Attach(name string, r io.Reader, w io.Writer) error {
	if b.running.Load() {
		return types.NewError(types.ErrCodeFailedPrecondition, "cannot attach modules while the broker is running")
	}
	if name == config.AdminModule {
		return types.NewError(types.ErrCodeInvalidArgument, "the admin module is built in")
	}
	if !b.graph.Has(name) {
		return types.NewError(types.ErrCodeNotFound, fmt.Sprintf("module %s is not declared", name))
	}
	if _, exists := b.modules[name]; exists {
		return types.NewError(types.ErrCodeAlreadyExists, fmt.Sprintf("module %s is already attached", name))
	}

	b.modules[name] = &endpoint{name: name, w: w, status: types.StatusRunning}

	b.readers.Add(1)
	go b.readLoop(name, r)

	b.logger.Debug("Module attached", "module", name)
	return nil
}

// Run is the event loop. It returns when ctx is cancelled or when every
// attached module has gone down.
func (b *Broker) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return types.NewError(types.ErrCodeFailedPrecondition, "broker is already running")
	}
	defer b.Close()
	select {
	case <-b.stop:
		return types.NewError(types.ErrCodeFailedPrecondition, "broker is closed")
	default:
	}

	var sweep <-chan time.Time
	if b.cfg.PendingTTL > 0 {
		ticker := time.NewTicker(b.cfg.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	b.logger.Info("Broker running",
		"modules", len(b.modules),
		"pending_ttl", b.cfg.PendingTTL,
		"reject_duplicate_ids", b.cfg.RejectDuplicateIDs)

	for {
		if b.liveModules() == 0 {
			b.logger.Info("All modules are down, broker stopping", "pending", b.pending.Len())
			return nil
		}

		select {
		case <-ctx.Done():
			b.logger.Info("Broker stopping", "reason", ctx.Err(), "pending", b.pending.Len())
			return nil
		case ev := <-b.events:
			b.handleEvent(ev)
		case <-sweep:
			b.evictExpired()
		}
	}
}

// Close stops the loop from accepting events and releases readers blocked on
// handing one over. It is safe to call more than once.
func (b *Broker) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Wait blocks until every reader goroutine has returned. Readers exit once
// their stream reaches end-of-stream, so callers close the module streams
// first.
func (b *Broker) Wait() {
	b.readers.Wait()
}

func (b *Broker) liveModules() int {
	n := 0
	for _, m := range b.modules {
		if m.status == types.StatusRunning {
			n++
		}
	}
	return n
}

func (b *Broker) handleEvent(ev event) {
	switch ev.kind {
	case eventLine:
		b.handleLine(ev.module, ev.line)
	case eventTooLong:
		b.logger.Warn("Dropping oversized line", "module", ev.module, "max_line_bytes", b.cfg.MaxLineBytes)
		b.stats.Dropped(DropLineTooLong)
	case eventTruncated:
		b.logger.Warn("Dropping unterminated line at end of stream", "module", ev.module, "bytes", len(ev.line))
		b.stats.Dropped(DropTruncated)
	case eventClosed:
		b.moduleDown(ev.module, ev.err)
	}
}

// handleLine parses one line and routes it
func (b *Broker) handleLine(source string, line []byte) {
	msg, err := types.ParseMessage(line)
	if err != nil {
		b.logger.Warn("Dropping malformed line", "module", source, "error", err)
		b.stats.Dropped(DropMalformed)
		return
	}
	if msg.IsRequest() {
		b.invoke(source, line, msg)
		return
	}
	b.resolve(source, line, msg)
}

// moduleDown marks a module as gone. Calls it still owes replies for are
// failed with xrpc.module_down. Calls it made stay pending; their replies are
// dropped when they arrive.
func (b *Broker) moduleDown(name string, cause error) {
	m, ok := b.modules[name]
	if !ok || m.status == types.StatusDown {
		return
	}
	m.status = types.StatusDown

	owed := b.pending.ByCallee(name)
	if cause != nil {
		b.logger.Warn("Module down", "module", name, "error", cause, "failing_calls", len(owed))
	} else {
		b.logger.Info("Module down", "module", name, "failing_calls", len(owed))
	}

	for _, key := range owed {
		pc, _ := b.pending.Lookup(key)
		b.synthesize(name, key, types.CodenameModuleDown,
			fmt.Sprintf("module %s went down before answering %s", name, pc.Method))
	}
}
