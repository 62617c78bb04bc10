// Package server orchestrates all components: bus connection, registration
// store, dispatcher, routers, request transport and HTTP health.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/internal/config"
	"github.com/morezero/cim-broker/pkg/async"
	"github.com/morezero/cim-broker/pkg/bootstrap"
	"github.com/morezero/cim-broker/pkg/commsutil"
	"github.com/morezero/cim-broker/pkg/db"
	"github.com/morezero/cim-broker/pkg/dispatcher"
	"github.com/morezero/cim-broker/pkg/events"
	"github.com/morezero/cim-broker/pkg/indication"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/provider"
	"github.com/morezero/cim-broker/pkg/registry"
	"github.com/morezero/cim-broker/pkg/router"
)

const logPrefix = "server:server"

// Server is the cim-broker orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	reg        registryForServer
	codec      message.Codec
	disp       *dispatcher.Dispatcher
	oop        *router.OOP
	workers    *async.Pool
	correlator *async.Correlator
	sub        *comms.Subscription
}

// serverParams holds the collaborators newServer wires together.
type serverParams struct {
	Config    *config.Config
	Conn      *comms.Conn
	Registry  *registry.Manager
	Bootstrap *bootstrap.ResolvedBootstrap
	// Catalog defaults to builtinCatalog of Bootstrap.
	Catalog *provider.Catalog
}

// setupLogging installs the process default logger.
func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// builtinCatalog registers an in-memory provider for every provider the
// bootstrap file declares.
func builtinCatalog(rb *bootstrap.ResolvedBootstrap) (*provider.Catalog, error) {
	cat := provider.NewCatalog()
	if rb == nil {
		return cat, nil
	}
	for _, p := range rb.Providers() {
		if err := cat.Register(p.ProviderModuleName, p.Name, provider.NewMemory()); err != nil {
			return nil, fmt.Errorf("%s - register provider %s/%s: %w", logPrefix, p.ProviderModuleName, p.Name, err)
		}
	}
	return cat, nil
}

// newServer builds the dispatcher, both routers and the correlation layer.
// Nothing listens until start is called.
func newServer(p serverParams) (*Server, error) {
	cfg := p.Config
	cat := p.Catalog
	if cat == nil {
		var err error
		if cat, err = builtinCatalog(p.Bootstrap); err != nil {
			return nil, err
		}
	}
	s := &Server{
		cfg: cfg,
		nc:  p.Conn,
		reg: p.Registry,
		codec: message.Codec{
			PerfInstrumentation:  cfg.PerfInstrumentation,
			CompressionThreshold: cfg.ResponseCompressionThreshold,
		},
	}

	params := dispatcher.Params{
		Registry: p.Registry,
		Basic: func(cb router.Callbacks) router.Router {
			return router.NewBasic(router.BasicParams{Catalog: cat, Callbacks: cb, ChunkSize: cfg.ResponseChunkSize})
		},
		OOP: func(cb router.Callbacks) router.Router {
			s.oop = router.NewOOP(router.OOPParams{
				Conn:             p.Conn,
				Callbacks:        cb,
				Codec:            s.codec,
				RequestTimeout:   cfg.RequestTimeout,
				HeartbeatTimeout: cfg.AgentHeartbeatTimeout,
				SweepInterval:    cfg.AgentHeartbeatInterval,
			})
			return s.oop
		},
		MaxRestarts:            cfg.MaxFailedProviderModuleRestarts,
		ForceProviderProcesses: cfg.ForceProviderProcesses,
		Unprivileged:           cfg.RunAsUnprivileged,
		IdleInterval:           cfg.IdleCleanupInterval,
	}
	if p.Bootstrap != nil {
		params.Managers = p.Bootstrap.ManagerMap()
	}
	if p.Conn != nil {
		params.Indications = indication.NewClient(p.Conn, &indication.ClientOpts{
			Subject: cfg.IndicationServiceSubject,
			Timeout: cfg.RequestTimeout,
			Codec:   s.codec,
		})
	}
	disp, err := dispatcher.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create dispatcher: %w", logPrefix, err)
	}
	s.disp = disp
	s.workers = async.NewPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize)
	s.correlator = async.New(s.workers, disp)
	disp.Attach(s.correlator)
	return s, nil
}

// start begins agent tracking, the idle cleanup and the request subscription.
func (s *Server) start() error {
	if err := s.oop.Start(); err != nil {
		return fmt.Errorf("%s - failed to start provider agent router: %w", logPrefix, err)
	}
	if err := s.disp.Start(); err != nil {
		return fmt.Errorf("%s - failed to start dispatcher: %w", logPrefix, err)
	}
	if s.nc == nil {
		return nil
	}
	sub, err := s.nc.Subscribe(s.cfg.ProviderManagerSubject, s.onRequest)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, s.cfg.ProviderManagerSubject, err)
	}
	s.sub = sub
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, s.cfg.ProviderManagerSubject))
	return nil
}

// stop takes no new requests, lets queued ones finish and shuts the routers down.
func (s *Server) stop(ctx context.Context) {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
		s.sub = nil
	}
	s.workers.Close()
	s.disp.Shutdown(ctx)
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return fmt.Errorf("%s - invalid config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting cim-broker", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Load bootstrap config
	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load bootstrap config: %w", logPrefix, err)
	}
	resolved, err := bootstrap.CreateResolvedBootstrap(bootstrapCfg)
	if err != nil {
		return fmt.Errorf("%s - failed to resolve bootstrap config: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Provider managers: %v", logPrefix, resolved.ManagerMap().Paths()))

	// Step 2: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 3: Registration store
	var store registry.Store
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			nc.Close()
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		if cfg.RunMigrations {
			if err := migrateAndSeed(ctx, pool, cfg); err != nil {
				pool.Close()
				nc.Close()
				return err
			}
		}
		store = registry.NewPGStore(db.NewRepository(pool))
	} else {
		slog.Info(fmt.Sprintf("%s - No DATABASE_URL; provider registrations are kept in memory", logPrefix))
		store = registry.NewMemoryStore()
	}
	closeAll := func() {
		if pool != nil {
			pool.Close()
		}
		nc.Close()
	}

	// Step 4: Registration manager with lifecycle alerts on the bus
	publisher := events.NewMultiPublisher(
		events.LogPublisher{},
		events.NewCommsPublisher(nc, &events.CommsPublisherOpts{AlertSubject: cfg.AlertSubject}),
	)
	reg := registry.NewManager(registry.NewManagerParams{Store: store, Publisher: publisher})
	if pool == nil {
		if err := reg.Seed(ctx, resolved); err != nil {
			closeAll()
			return fmt.Errorf("%s - failed to seed provider modules: %w", logPrefix, err)
		}
	}

	// Step 5: Dispatcher, routers and request subscription
	s, err := newServer(serverParams{Config: cfg, Conn: nc, Registry: reg, Bootstrap: resolved})
	if err != nil {
		closeAll()
		return err
	}
	s.pool = pool
	if err := s.start(); err != nil {
		s.stop(ctx)
		closeAll()
		return err
	}

	// Step 6: Start HTTP health server
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - cim-broker is ready", logPrefix))

	// Wait for shutdown signal
	sig := waitForSignal()
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	s.httpServer.Shutdown(ctx)
	s.stop(ctx)
	nc.Drain()
	if pool != nil {
		pool.Close()
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// migrateAndSeed applies the SQL migrations and seeds the bootstrap modules.
func migrateAndSeed(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error {
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
	}
	if _, err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
	}
	if err := db.SeedBootstrap(ctx, pool, cfg.BootstrapFile); err != nil {
		return fmt.Errorf("%s - failed to seed bootstrap provider modules: %w", logPrefix, err)
	}
	return nil
}

func waitForSignal() os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return <-sigCh
}
