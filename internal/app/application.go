// Package app wires the gateway together: store, stream log, publisher,
// presence registry, authority, session resolution and the websocket
// server, all under one lifecycle manager.
package app

import (
	"context"
	"fmt"

	"github.com/nodemesh/streamgate/internal/authority"
	"github.com/nodemesh/streamgate/internal/config"
	"github.com/nodemesh/streamgate/internal/coordination"
	"github.com/nodemesh/streamgate/internal/metrics"
	"github.com/nodemesh/streamgate/internal/presence"
	"github.com/nodemesh/streamgate/internal/publish"
	"github.com/nodemesh/streamgate/internal/server"
	"github.com/nodemesh/streamgate/internal/session"
	"github.com/nodemesh/streamgate/internal/store"
	"github.com/nodemesh/streamgate/internal/store/memstore"
	"github.com/nodemesh/streamgate/internal/store/redisstore"
	"github.com/nodemesh/streamgate/internal/streamlog"
	"github.com/nodemesh/streamgate/internal/system"
	"github.com/nodemesh/streamgate/pkg/logger"
)

// Options are the pluggable seams of the application. Nil fields get
// config-driven defaults: Redis when an address is configured (memory
// otherwise), the JWT resolver when a secret is configured (guest-only
// otherwise), and an authority with no handlers beyond the built-in
// rules.
type Options struct {
	Store    store.Store
	Resolver session.Resolver
	Handlers []authority.Handler
}

// Application ties the gateway services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store     store.Store
	Metrics   *metrics.Metrics
	StreamLog *streamlog.Log
	Publisher *publish.Publisher
	Registry  *presence.Registry
	Authority *authority.Authority
	Keeper    *coordination.Keeper
	Server    *server.Server
}

// New builds a fully initialised application from configuration.
func New(cfg *config.Config, opts Options, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	st := opts.Store
	if st == nil {
		var err error
		st, err = buildStore(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	resolver := opts.Resolver
	if resolver == nil {
		if cfg.Auth.JWTSecret != "" {
			resolver = session.NewJWTResolver([]byte(cfg.Auth.JWTSecret), log)
		} else {
			log.Warn("no jwt secret configured; all connections resolve as guests")
			resolver = session.ResolverFunc(func(ctx context.Context, sessionKey string) (*authority.Principal, error) {
				return nil, nil
			})
		}
	}

	m := metrics.New()
	slog := streamlog.New(st, log)
	slog.SetRetention(cfg.Stream.MessageTTL)
	pub := publish.New(slog, m, log)
	registry := presence.New(st, m, log)
	auth := authority.New(log, opts.Handlers...)
	keeper := coordination.NewKeeper(log)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Server.Addr
	srvCfg.HeartbeatInterval = cfg.Server.HeartbeatInterval
	srvCfg.WriteTimeout = cfg.Server.WriteTimeout
	srvCfg.AuthWorkers = cfg.Server.AuthWorkers
	srvCfg.AuthQueueCapacity = cfg.Server.AuthQueueCapacity
	srvCfg.CommandsPerSecond = float64(cfg.Server.CommandsPerSecond)
	srvCfg.CommandBurst = cfg.Server.CommandBurst

	srv := server.New(srvCfg, server.Deps{
		Store:     st,
		Authority: auth,
		Registry:  registry,
		Resolver:  resolver,
		Publisher: pub,
		Metrics:   m,
		Logger:    log,
	})

	collector := presence.NewCollector(st, registry, cfg.Stream.GCInterval, log).
		WithKeeper(keeper)

	manager := system.NewManager()
	for _, svc := range []system.Service{keeper, collector, srv} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Store:     st,
		Metrics:   m,
		StreamLog: slog,
		Publisher: pub,
		Registry:  registry,
		Authority: auth,
		Keeper:    keeper,
		Server:    srv,
	}, nil
}

func buildStore(cfg *config.Config, log *logger.Logger) (store.Store, error) {
	if cfg.Redis.Addr == "" {
		log.Warn("no redis address configured; using in-process memory store")
		return memstore.New(), nil
	}
	st, err := redisstore.New(context.Background(), redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return st, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services in reverse registration order.
func (a *Application) Stop(ctx context.Context) error {
	if err := a.manager.Stop(ctx); err != nil {
		return err
	}
	return a.Store.Close()
}
