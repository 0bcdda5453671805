// Package app wires Heron's components for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/heron/internal/alerting"
	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/monitor"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
	"github.com/opensource-finance/heron/internal/version"
	"github.com/opensource-finance/heron/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *domain.Config
	Logger *slog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *domain.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{Config: cfg, Logger: logger}
}

// pipeline is the storage-backed monitoring core every command needs.
type pipeline struct {
	repo    *repository.SQLRepository
	engine  *rules.Engine
	monitor *monitor.Monitor
}

// openPipeline opens the repository and loads the active rules. m may be nil.
func (a *App) openPipeline(ctx context.Context, m *metrics.Metrics) (*pipeline, error) {
	repo, err := repository.New(a.Config.Repository)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	a.Logger.Info("repository initialized", "driver", a.Config.Repository.Driver)

	engine, err := rules.NewEngine(repo, repo, a.Logger)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("create rule engine: %w", err)
	}
	if m != nil {
		engine.OnRuleError(m.ObserveRuleError)
	}

	loaded, err := engine.Reload(ctx)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if loaded == 0 {
		a.Logger.Warn("no active rules; create them with POST /rules or heron seed-rules")
	}
	if m != nil {
		m.SetRulesLoaded(loaded)
	}

	scorer := scoring.NewScorer(repo, nil, a.Logger)
	mon := monitor.New(engine, scorer, alerting.NewGenerator(), repo, a.Config.Monitor, a.Logger)
	if m != nil {
		mon.SetRecorder(m)
	}

	return &pipeline{repo: repo, engine: engine, monitor: mon}, nil
}

func (p *pipeline) Close() error {
	return p.repo.Close()
}

// Serve runs the HTTP API, and the async worker when enabled, until the
// context is cancelled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := a.Config
	a.Logger.Info("starting heron",
		"version", version.Version,
		"commit", version.Commit,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if cfg.Tracing.Enabled {
		// Spans go to the globally registered provider; this makes them
		// continue across HTTP callers and bus messages.
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
		a.Logger.Info("trace propagation enabled", "service_name", cfg.Tracing.ServiceName)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	p, err := a.openPipeline(ctx, m)
	if err != nil {
		return err
	}
	defer p.Close()

	results, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer results.Close()
	a.Logger.Info("cache initialized", "type", cfg.Cache.Type)
	if s, ok := results.(metrics.CacheStatser); ok && m != nil {
		m.WatchCache(s)
	}

	events, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	defer events.Close()
	a.Logger.Info("event bus initialized", "type", cfg.EventBus.Type)
	if d, ok := events.(metrics.DropCounter); ok && m != nil {
		m.WatchBus(d)
	}

	var w *worker.Worker
	if cfg.Tier == domain.TierPro || cfg.Monitor.Async {
		w = worker.NewWorker(events, p.monitor, results, cfg.Cache.ResultTTL, a.Logger)
		if err := w.Start(worker.Config{Concurrency: cfg.Monitor.BatchWorkers}); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      p.repo,
		Cache:     results,
		Bus:       events,
		Engine:    p.engine,
		Monitor:   p.monitor,
		Metrics:   m,
		Async:     cfg.Monitor.Async,
		ResultTTL: cfg.Cache.ResultTTL,
		Version:   version.Version,
		Logger:    a.Logger,
	}, cfg.Metrics.Path)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	a.Logger.Info("heron is ready", "addr", srv.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutting down")
	case runErr = <-serveErr:
		a.Logger.Error("server failed", "error", runErr)
	}

	// Stop consuming before the stores close underneath the worker.
	if w != nil {
		if err := w.Stop(); err != nil {
			a.Logger.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server forced to shutdown", "error", err)
	}

	a.Logger.Info("heron shutdown complete")
	return runErr
}

// Batch monitors up to limit stored transactions that were never scored.
func (a *App) Batch(ctx context.Context, limit int) (*domain.BatchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", domain.ErrValidation)
	}
	p, err := a.openPipeline(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	return p.monitor.MonitorUnscored(ctx, p.repo, limit)
}
