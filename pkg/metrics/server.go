// Package metrics serves broker counters over HTTP in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nano-cluster/nano-compose/internal/config"
	"github.com/nano-cluster/nano-compose/internal/logger"
	"github.com/nano-cluster/nano-compose/pkg/stats"
	"github.com/nano-cluster/nano-compose/pkg/types"
)

// Namespace prefixes every exported metric
const Namespace = "nano_compose"

// Server is the metrics HTTP endpoint
type Server struct {
	cfg      config.MetricsConfig
	registry *prometheus.Registry
	logger   *logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a metrics server exporting st along with the Go runtime
// and process collectors
func NewServer(cfg config.MetricsConfig, st *stats.Stats, log *logger.Logger) (*Server, error) {
	if st == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "stats are required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultMetricsPath
	}
	if cfg.Address == "" {
		cfg.Address = config.DefaultMetricsAddress
	}

	registry := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		stats.NewCollector(st, Namespace),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to register metrics collector", err)
		}
	}

	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   log.With("component", "metrics"),
	}, nil
}

// Registry returns the registry the server exports
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the HTTP handler serving the metrics path and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog:          promLogger{s.logger},
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return types.NewError(types.ErrCodeFailedPrecondition, "metrics server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return types.WrapError(types.ErrCodeUnavailable,
			fmt.Sprintf("failed to listen on %s", s.cfg.Address), err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}(s.server, s.done)

	s.logger.Info("Metrics server listening", "address", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound address, or nil when not running
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the scrape URL of a running server
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return "http://" + addr.String() + s.cfg.Path
}

// Stop shuts the server down gracefully within ctx
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return types.WrapError(types.ErrCodeTimeout, "metrics server did not shut down cleanly", err)
	}
	<-done
	s.logger.Info("Metrics server stopped")
	return nil
}

// promLogger adapts the logger to promhttp's error log
type promLogger struct {
	log *logger.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.log.Error("Metrics handler error", "detail", fmt.Sprint(v...))
}
