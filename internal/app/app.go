package app

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/biograph-backend/internal/http"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Server   *http.Server
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// New loads configuration and wires the full process without starting background work.
func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

func NewWithConfig(ctx context.Context, cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		ServiceName: cfg.OtelService,
		Environment: cfg.OtelEnv,
		Version:     cfg.OtelVersion,
		Endpoint:    cfg.OtelEndpoint,
		Headers:     cfg.OtelHeaders,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampler,
	})
	metrics := observability.Init(log, cfg.MetricsEnabled)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	reposet := wireRepos(clients.DB(), log)
	serviceset, err := wireServices(ctx, log, cfg, clients, reposet, metrics)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}
	handlerset := wireHandlers(log, clients, serviceset)
	middleware := wireMiddleware(log, cfg)
	server := wireServer(log, cfg, metrics, handlerset, middleware)

	log.Info("app wired", "graph_backend", serviceset.GraphBackendSummary(), "lookup_cache", serviceset.Cache.Backend())
	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Server:       server,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the projection sync worker, the job scheduler and the metrics collectors.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Services.ProjectionSync.Start(ctx)
	if a.Services.Scheduler != nil {
		a.Services.Scheduler.Start()
	}
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	a.Metrics.StartDBCollector(ctx, a.Log, a.Clients.DB(), 15*time.Second)
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis, 15*time.Second)
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("http listening", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run(a.Cfg.HTTPAddr)
}

// Close stops background work and releases clients. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
	}
	if a.Services.Scheduler != nil {
		a.Services.Scheduler.Stop(ctx)
	}
	a.Services.ProjectionSync.Stop()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Projection != nil {
		if err := a.Services.Projection.Close(ctx); err != nil {
			a.Log.Warn("projection close", "error", err)
		}
		a.Services.Projection = nil
	}
	a.Clients.Close()
	a.Clients = Clients{}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
		a.otelShutdown = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
