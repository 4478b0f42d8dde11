package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/eventrouter/internal/config"
	"github.com/rickgao/eventrouter/internal/connection"
	"github.com/rickgao/eventrouter/internal/database"
	"github.com/rickgao/eventrouter/internal/dispatch"
	"github.com/rickgao/eventrouter/internal/health"
	"github.com/rickgao/eventrouter/internal/metrics"
	"github.com/rickgao/eventrouter/internal/queue"
	"github.com/rickgao/eventrouter/internal/registry"
	"github.com/rickgao/eventrouter/internal/writer"
)

// DefaultShutdownTimeout bounds Run's graceful shutdown.
const DefaultShutdownTimeout = 15 * time.Second

// Server is one event router instance.
type Server struct {
	cfg    *config.RouterConfig
	logger *slog.Logger

	registry   *registry.Registry
	queue      queue.Queue
	conns      connection.Manager
	dispatcher dispatch.Dispatcher
	monitor    *health.Monitor
	recorder   *metrics.Recorder
	exporter   *metrics.Exporter

	// Optional health history
	db      *pgxpool.Pool
	history *writer.HealthWriter

	httpSrv   *http.Server
	statusSrv *http.Server

	// Lifecycle
	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	shutdown time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithSink registers an extra health sample consumer.
func WithSink(s health.Sink) Option {
	return func(srv *Server) { srv.monitor.AddSink(s) }
}

// WithShutdownTimeout overrides DefaultShutdownTimeout for Run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(srv *Server) { srv.shutdown = d }
}

// New builds every component from cfg. Nothing runs until Start or Run.
func New(cfg *config.RouterConfig, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(registry.DefaultShards),
		shutdown: DefaultShutdownTimeout,
	}

	qlog := logger.With("component", "queue")
	s.queue = queue.New(queue.Config{
		MaxSize:         cfg.MaxQueueSize,
		MultiQueue:      cfg.UseMultiQueue,
		StarvationLimit: cfg.Queue.StarvationLimit,
		OnExpired: func(e queue.Entry) {
			qlog.Debug("event expired",
				"event_id", e.Event.ID,
				"topic", e.Event.Topic,
				"priority", e.Event.Priority,
				"age", e.Event.Age(time.Now()),
			)
		},
	})

	s.conns = connection.NewManager(connection.Config{
		MaxClients:        cfg.MaxClients,
		HandshakeTimeout:  cfg.Connections.HandshakeTimeout,
		IdleTimeout:       cfg.Connections.IdleTimeout,
		WriteTimeout:      cfg.Connections.WriteTimeout,
		PingInterval:      cfg.Connections.PingInterval,
		DrainTimeout:      cfg.Connections.DrainTimeout,
		OutboundBuffer:    cfg.Connections.OutboundBuffer,
		SlowConsumerDrops: cfg.Connections.SlowConsumerDrops,
		MaxMessageBytes:   cfg.Connections.MaxMessageBytes,
		DefaultTTL:        cfg.Queue.DefaultTTL,
	}, s.registry, s.queue, logger.With("component", "connections"))

	s.dispatcher = dispatch.New(s.queue, s.registry, s.conns, logger.With("component", "dispatcher"))

	s.monitor = health.NewMonitor(health.Config{
		SampleInterval:    cfg.Health.SampleInterval,
		DegradedThreshold: cfg.Health.DegradedThreshold,
		MaxQueueSize:      cfg.MaxQueueSize,
	}, health.Sources{
		Queue:       s.queue,
		Connections: s.conns,
		Dispatch:    s.dispatcher,
	}, logger.With("component", "health"))

	s.exporter = metrics.NewExporter()
	recorder, err := metrics.NewRecorder(s.exporter.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("create metrics recorder: %w", err)
	}
	s.recorder = recorder
	s.monitor.AddSink(recorder)
	s.conns.SetDeliveryObserver(recorder.ObserveLatency)

	for _, opt := range opts {
		opt(s)
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if addr := cfg.StatusAddr(); addr != "" {
		s.statusSrv = &http.Server{
			Addr:              addr,
			Handler:           s.StatusHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

// Start starts the history sink, health monitor and dispatcher. It does
// not listen; mount Handler and StatusHandler yourself or use Run.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}

	// Component lifetimes are ended by Stop, not by the caller's ctx.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.cfg.History.Enabled {
		if err := s.startHistory(ctx, runCtx); err != nil {
			cancel()
			return err
		}
	}

	if err := s.monitor.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start health monitor: %w", err)
	}
	if err := s.dispatcher.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start dispatcher: %w", err)
	}

	s.started = true
	s.logger.Info("event router started",
		"addr", s.cfg.Addr(),
		"status_addr", s.cfg.StatusAddr(),
		"queue_mode", s.queue.Stats().Mode,
		"max_queue_size", s.cfg.MaxQueueSize,
		"max_clients", s.cfg.MaxClients,
	)
	return nil
}

func (s *Server) startHistory(ctx, runCtx context.Context) error {
	h := s.cfg.History
	s.logger.Info("connecting to health history database",
		"host", h.Host,
		"port", h.Port,
		"database", h.Name,
	)

	db, err := database.Connect(ctx, h)
	if err != nil {
		return fmt.Errorf("connect health history: %w", err)
	}
	if err := writer.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return err
	}

	wcfg := writer.DefaultWriterConfig()
	wcfg.BatchSize = h.BatchSize
	wcfg.FlushInterval = h.FlushInterval

	w := writer.NewHealthWriter(wcfg, db, s.logger.With("component", "history"))
	if err := w.Start(runCtx); err != nil {
		db.Close()
		return fmt.Errorf("start health writer: %w", err)
	}

	s.db = db
	s.history = w
	s.monitor.AddSink(w)
	return nil
}

// Stop shuts down in order: stop accepting, close every connection with a
// bounded drain, stop the dispatcher, close the queue, stop the monitor,
// then flush the history sink.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("stopping event router")

	var errs []error
	for _, srv := range []*http.Server{s.httpSrv, s.statusSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}

	if err := s.conns.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop connections: %w", err))
	}
	if err := s.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
	}
	s.queue.Close()

	if err := s.monitor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop health monitor: %w", err))
	}

	if s.history != nil {
		// The final flush must outlive the cancelled run context.
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := s.history.Stop(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop health writer: %w", err))
		}
		cancel()
		s.db.Close()
	}

	if err := s.exporter.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.logger.Info("event router stopped")
	return errors.Join(errs...)
}

// Run starts the router, serves the agent and status listeners and blocks
// until ctx is cancelled or a listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serve(s.httpSrv, "agent listener")
	})
	if s.statusSrv != nil {
		g.Go(func() error {
			return s.serve(s.statusSrv, "status listener")
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		return s.Stop(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) serve(srv *http.Server, name string) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	s.logger.Info("listening", "listener", name, "addr", ln.Addr().String())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Snapshot returns the latest health sample.
func (s *Server) Snapshot() health.Snapshot {
	return s.monitor.Snapshot()
}

// Sample takes a fresh health sample.
func (s *Server) Sample() health.Snapshot {
	return s.monitor.Sample()
}

// Connections returns per-connection statistics.
func (s *Server) Connections() []connection.ConnStats {
	return s.conns.Connections()
}
