// Package app assembles the application: configuration, logging,
// telemetry, stores, the analytics engine, and the HTTP server, with
// graceful startup and shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradepulse/internal/cache"
	"tradepulse/internal/charts"
	"tradepulse/internal/config"
	"tradepulse/internal/engine"
	"tradepulse/internal/infrastructure"
	"tradepulse/internal/pipeline"
	"tradepulse/internal/store"
	transporthttp "tradepulse/internal/transport/http"
	"tradepulse/internal/websocket"
	"tradepulse/pkg/contracts/domain"
)

// Options control application assembly.
type Options struct {
	// ConfigFile is an optional YAML config path.
	ConfigFile string
	// DBPath selects the sqlite trade store; empty runs in-memory.
	DBPath string
}

// Application owns every long-lived component and their lifecycles.
type Application struct {
	cfg       *config.Config
	logger    *slog.Logger
	closeLog  func() error
	telemetry *infrastructure.Telemetry

	memo      *cache.Store
	persister *cache.Persister
	trades    store.TradeStore
	metadata  store.MetadataStore
	closeDB   func() error

	engine *engine.Engine
	hub    *websocket.Hub
	server *http.Server

	unsubscribe func()
}

// New builds the application. Nothing starts running until Run.
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	telemetry, err := infrastructure.InitTelemetry(logger)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	a := &Application{
		cfg:       cfg,
		logger:    logger,
		closeLog:  closeLog,
		telemetry: telemetry,
	}

	if err := a.initStores(opts.DBPath); err != nil {
		closeLog()
		return nil, err
	}
	a.initEngine()
	a.initServer()
	return a, nil
}

func (a *Application) initStores(dbPath string) error {
	a.memo = cache.New(cache.Options{
		DefaultTTL:     a.cfg.Cache.DefaultTTL,
		MaxEntries:     a.cfg.Cache.MaxEntries,
		MaxMemoryBytes: int64(a.cfg.Cache.MaxMemoryMB) * 1024 * 1024,
		SweepInterval:  a.cfg.Cache.SweepInterval,
		Recorder:       a.telemetry,
	}, a.logger)

	if path := a.cfg.Cache.PersistPath; path != "" {
		persister, err := cache.NewPersister(path, a.logger)
		if err != nil {
			return fmt.Errorf("open cache persister: %w", err)
		}
		// Filter results are not persisted: their member trades do not
		// serialize, so a restored entry would report counts for trades
		// it no longer carries. Filtering recomputes on first use.
		persister.RegisterDecoder(cache.NamespaceMetrics, cache.JSONDecoder[pipeline.Metrics]())
		persister.RegisterDecoder(cache.NamespaceAgg, cache.JSONDecoder[domain.AggregationResult]())
		persister.RegisterDecoder(cache.NamespaceChart, cache.JSONDecoder[charts.Series]())
		a.persister = persister
	}

	if dbPath != "" {
		db, err := store.NewSQLite(dbPath)
		if err != nil {
			return fmt.Errorf("open trade store: %w", err)
		}
		a.trades = db
		a.metadata = db
		a.closeDB = db.Close
		a.logger.Info("using sqlite trade store", slog.String("path", dbPath))
		return nil
	}

	mem := store.NewMemoryStore()
	a.trades = mem
	a.metadata = mem
	a.logger.Info("using in-memory trade store")
	return nil
}

func (a *Application) initEngine() {
	a.engine = engine.New(a.trades, a.metadata, a.memo,
		a.cfg.Engine, a.logger, a.telemetry)

	a.hub = websocket.NewHub(a.logger)
	// The hub receives the engine's debounced snapshot stream.
	a.unsubscribe = a.engine.Subscribe(func(snap engine.Snapshot) {
		a.hub.Broadcast(websocket.TypeSnapshot, snap)
	}, engine.SubscribeOptions{})
}

func (a *Application) initServer() {
	handler := transporthttp.NewAnalyticsHandler(a.engine, a.logger)
	router := transporthttp.NewRouter(handler, a.hub, a.cfg, a.telemetry, a.logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}
}

// Engine exposes the analytics engine for embedding callers.
func (a *Application) Engine() *engine.Engine {
	return a.engine
}

// TradeStore exposes the trade repository for import commands.
func (a *Application) TradeStore() store.TradeStore {
	return a.trades
}

// Run starts everything and blocks until SIGINT/SIGTERM or ctx
// cancellation, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.memo.Start()
	if a.persister != nil {
		if err := a.persister.Load(a.memo); err != nil {
			a.logger.Warn("cache restore failed", slog.String("error", err.Error()))
		}
	}
	a.hub.Start()
	a.engine.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.shutdown()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		a.shutdown()
		return nil
	}
}

func (a *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}

	a.unsubscribe()
	a.hub.Stop()

	if err := a.engine.Stop(5 * time.Second); err != nil {
		a.logger.Error("engine stop failed", slog.String("error", err.Error()))
	}

	if a.persister != nil {
		if err := a.persister.Save(a.memo); err != nil {
			a.logger.Error("cache persist failed", slog.String("error", err.Error()))
		}
		a.persister.Close()
	}
	a.memo.Stop()

	if a.closeDB != nil {
		a.closeDB()
	}
	if a.telemetry != nil {
		a.telemetry.Shutdown(ctx)
	}
	a.logger.Info("shutdown complete")
	a.closeLog()
}
