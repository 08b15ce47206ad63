// Package control is the composition root: it builds every routing
// component from configuration and manages the process lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/llmrouter/internal/core/config"
	"github.com/vietddude/llmrouter/internal/engine"
	"github.com/vietddude/llmrouter/internal/infra/backend"
	redisclient "github.com/vietddude/llmrouter/internal/infra/redis"
	"github.com/vietddude/llmrouter/internal/infra/storage"
	"github.com/vietddude/llmrouter/internal/infra/storage/memory"
	"github.com/vietddude/llmrouter/internal/infra/storage/postgres"
	"github.com/vietddude/llmrouter/internal/routing/catalog"
	"github.com/vietddude/llmrouter/internal/routing/classifier"
	"github.com/vietddude/llmrouter/internal/routing/failover"
	"github.com/vietddude/llmrouter/internal/routing/health"
	"github.com/vietddude/llmrouter/internal/routing/usage"
	"github.com/vietddude/llmrouter/internal/server"
)

// App owns the engine and its background services.
type App struct {
	cfg       *config.AppConfig
	engine    *engine.Engine
	registry  *backend.Registry
	decisions storage.DecisionRepository
	server    *server.Server
	redis     *redisclient.Client
	publisher *redisclient.Publisher
	log       *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option customises NewApp.
type Option func(*options)

type options struct {
	backends []backend.Backend
	logger   *slog.Logger
}

// WithBackends registers the given backends instead of building them from
// the providers section.
func WithBackends(b ...backend.Backend) Option {
	return func(o *options) { o.backends = append(o.backends, b...) }
}

// WithLogger sets the logger used by the app and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewApp builds the engine and its services. Any configuration error is
// returned before anything is started.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger

	// 1. Routing components
	deps, err := routingDeps(cfg, log)
	if err != nil {
		return nil, err
	}

	// 2. Backends
	registry, err := buildRegistry(ctx, cfg.Providers, o.backends)
	if err != nil {
		return nil, err
	}

	// 3. Decision log
	decisions, err := openDecisions(ctx, cfg.Database, log)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	deps.Registry = registry
	deps.Decisions = decisions
	eng, err := engine.New(deps)
	if err != nil {
		_ = registry.Close()
		_ = decisions.Close()
		return nil, err
	}

	app := &App{
		cfg:       cfg,
		engine:    eng,
		registry:  registry,
		decisions: decisions,
		server:    server.New(eng, cfg.Server.Port, log),
		log:       log,
	}

	// 4. Optional health snapshot export
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, health snapshot publishing disabled", "error", err)
		} else {
			app.redis = client
			app.publisher = redisclient.NewPublisher(client, eng.GetHealthSnapshot, cfg.Server.Instance, cfg.Redis.PublishInterval, log)
		}
	}

	log.Info("Router initialized",
		"tiers", deps.Catalog.Tiers(),
		"fallback", deps.Catalog.FallbackTier(),
		"providers", registry.Names(),
	)
	return app, nil
}

// NewEngine builds an engine for classification and tier selection only.
// No backends are constructed and no decision log is opened, so provider
// credentials and database settings are not needed.
func NewEngine(cfg *config.AppConfig, log *slog.Logger) (*engine.Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	deps, err := routingDeps(cfg, log)
	if err != nil {
		return nil, err
	}
	return engine.New(deps)
}

func routingDeps(cfg *config.AppConfig, log *slog.Logger) (engine.Deps, error) {
	cls, err := classifier.New(classifier.DefaultRules().Apply(cfg.Classifier))
	if err != nil {
		return engine.Deps{}, err
	}
	cat, err := catalog.New(cfg.Tiers, cfg.Routing.FallbackTier)
	if err != nil {
		return engine.Deps{}, err
	}
	tracker := health.NewTracker(cfg.Routing.Health)
	return engine.Deps{
		Classifier: cls,
		Catalog:    cat,
		Tracker:    tracker,
		Executor:   failover.New(tracker, cfg.Routing.Executor(), failover.WithLogger(log)),
		Usage:      usage.NewTracker(cfg.Usage),
		Logger:     log,
	}, nil
}

func buildRegistry(ctx context.Context, providers []backend.Config, injected []backend.Backend) (*backend.Registry, error) {
	registry := backend.NewRegistry()
	if len(injected) > 0 {
		for _, b := range injected {
			if err := registry.Register(b); err != nil {
				return nil, err
			}
		}
		return registry, nil
	}

	for _, p := range providers {
		b, err := backend.New(ctx, p)
		if err != nil {
			_ = registry.Close()
			return nil, err
		}
		if err := registry.Register(b); err != nil {
			_ = registry.Close()
			return nil, err
		}
	}
	return registry, nil
}

func openDecisions(ctx context.Context, cfg postgres.Config, log *slog.Logger) (storage.DecisionRepository, error) {
	if cfg.URL == "" {
		log.Info("Using memory decision log")
		return memory.NewDecisionRepo(0), nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("Using PostgreSQL decision log")
	return postgres.NewDecisionRepo(db), nil
}

// Engine returns the routing engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Start launches the HTTP server and the snapshot publisher.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Stop(shutdownCtx)
	})

	if a.publisher != nil {
		a.log.Info("Publishing health snapshots", "instance", a.cfg.Server.Instance)
		g.Go(func() error { return a.publisher.Run(gctx) })
	}
	return nil
}

// Wait blocks until a background service fails or the app is stopped.
func (a *App) Wait() error {
	if a.group == nil {
		return nil
	}
	return a.group.Wait()
}

// Stop shuts everything down and releases resources.
func (a *App) Stop(ctx context.Context) error {
	var errs []error

	if a.cancel != nil {
		a.cancel()
		done := make(chan error, 1)
		go func() { done <- a.group.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("shutdown: %w", ctx.Err()))
		}
	}

	if err := a.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backends: %w", err))
	}
	if err := a.decisions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close decision log: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	a.log.Info("Router stopped")
	return errors.Join(errs...)
}
