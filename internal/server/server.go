// Package server implements the websocket connection server: it owns many
// concurrent client connections, multiplexes each one against its stream
// subscription, enforces the subscription protocol and exposes the HTTP
// surface (websocket endpoint, presence queries, publish ingress,
// health and metrics).
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nodemesh/streamgate/internal/authority"
	"github.com/nodemesh/streamgate/internal/coordination"
	"github.com/nodemesh/streamgate/internal/metrics"
	"github.com/nodemesh/streamgate/internal/presence"
	"github.com/nodemesh/streamgate/internal/publish"
	"github.com/nodemesh/streamgate/internal/session"
	"github.com/nodemesh/streamgate/internal/store"
	"github.com/nodemesh/streamgate/internal/system"
	"github.com/nodemesh/streamgate/pkg/logger"
)

var _ system.Service = (*Server)(nil)

// Config holds the connection server's tunables.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// HeartbeatInterval bounds how long a connection stays silent before
	// a heartbeat frame is sent.
	HeartbeatInterval time.Duration
	// WriteTimeout bounds individual socket writes.
	WriteTimeout time.Duration
	// AuthWorkers is the size of the session-resolution worker pool.
	AuthWorkers int
	// AuthQueueCapacity bounds pending session resolutions.
	AuthQueueCapacity int
	// CommandsPerSecond rate-limits inbound commands per connection.
	CommandsPerSecond float64
	// CommandBurst is the per-connection command burst allowance.
	CommandBurst int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		HeartbeatInterval: 25 * time.Second,
		WriteTimeout:      10 * time.Second,
		AuthWorkers:       16,
		AuthQueueCapacity: 2048,
		CommandsPerSecond: 20,
		CommandBurst:      40,
	}
}

// Deps are the collaborators the server multiplexes between.
type Deps struct {
	Store     store.Store
	Authority *authority.Authority
	Registry  *presence.Registry
	Resolver  session.Resolver
	Publisher *publish.Publisher
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// Server is the connection-multiplexing service.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *logger.Logger
	upgrader websocket.Upgrader
	authPool *coordination.WorkerPool

	mu       sync.Mutex
	httpSrv  *http.Server
	shutdown context.CancelFunc
	runCtx   context.Context
	conns    sync.WaitGroup
	running  bool
}

// New creates a connection server. The auth worker pool is owned by the
// server and started/stopped with it.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewDefault("connection-server")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.AuthWorkers <= 0 {
		cfg.AuthWorkers = DefaultConfig().AuthWorkers
	}
	if cfg.AuthQueueCapacity <= 0 {
		cfg.AuthQueueCapacity = DefaultConfig().AuthQueueCapacity
	}
	if cfg.CommandsPerSecond <= 0 {
		cfg.CommandsPerSecond = DefaultConfig().CommandsPerSecond
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = DefaultConfig().CommandBurst
	}

	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Stream subscriptions are permission-gated per stream, not
			// per origin; cross-origin clients are expected.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		authPool: coordination.NewWorkerPool("auth-pool", cfg.AuthWorkers, cfg.AuthQueueCapacity, deps.Logger),
	}
}

// Handler returns the full HTTP surface, mountable in tests without
// binding a listener.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/presence/{stream}", s.handlePresence).Methods(http.MethodGet)
	r.HandleFunc("/debug/presence", s.handlePresenceSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/publish", s.handlePublish).Methods(http.MethodPost)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) Name() string { return "connection-server" }

// Start begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.runCtx = runCtx
	s.shutdown = cancel
	s.running = true
	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	srv := s.httpSrv
	s.mu.Unlock()

	if err := s.authPool.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("http server failed")
		}
	}()

	s.logger.WithField("addr", s.cfg.Addr).Info("connection server started")
	return nil
}

// Stop closes the listener, signals every connection loop to unwind and
// waits for them within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.shutdown
	srv := s.httpSrv
	s.shutdown = nil
	s.httpSrv = nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.conns.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for connections to close")
	}

	if err := s.authPool.Stop(ctx); err != nil {
		return err
	}
	s.logger.Info("connection server stopped")
	return nil
}

// connCtx returns the context connection loops watch for shutdown. Before
// Start (handler-only use in tests) it falls back to the background
// context.
func (s *Server) connCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
