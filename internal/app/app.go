package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/objective-cascade/internal/data/db"
	"github.com/yungbote/objective-cascade/internal/data/graph"
	repos "github.com/yungbote/objective-cascade/internal/data/repos/cascade"
	httpx "github.com/yungbote/objective-cascade/internal/http"
	httpH "github.com/yungbote/objective-cascade/internal/http/handlers"
	"github.com/yungbote/objective-cascade/internal/modules/cascade"
	"github.com/yungbote/objective-cascade/internal/modules/cascade/progress"
	"github.com/yungbote/objective-cascade/internal/observability"
	"github.com/yungbote/objective-cascade/internal/platform/lock"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
	"github.com/yungbote/objective-cascade/internal/platform/neo4jdb"
	"github.com/yungbote/objective-cascade/internal/platform/redisdb"
	"github.com/yungbote/objective-cascade/internal/realtime"
	"github.com/yungbote/objective-cascade/internal/realtime/bus"
	"github.com/yungbote/objective-cascade/internal/temporalx"
	"github.com/yungbote/objective-cascade/internal/temporalx/cascaderun"
	"github.com/yungbote/objective-cascade/internal/temporalx/temporalworker"
)

type App struct {
	Log    *logger.Logger
	Cfg    Config
	Engine cascade.Usecases
	Server *httpx.Server

	bus     bus.Bus
	worker  *temporalworker.Runner
	closers []func(context.Context) error
	cancel  context.CancelFunc
}

// New connects every configured backend and wires the engine behind the
// HTTP surface. Backends left at memory/local need no infrastructure.
func New(ctx context.Context, log *logger.Logger, cfg Config) (a *App, err error) {
	a = &App{Log: log, Cfg: cfg}
	defer func() {
		if err != nil {
			a.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	if shutdown := observability.InitOTel(ctx, log, cfg.Otel); shutdown != nil {
		a.closers = append(a.closers, shutdown)
	}
	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.Init(log)
	}

	log.Info("Wiring stores...", "graph", cfg.Graph.Backend, "progress", cfg.Progress.Backend,
		"lock", cfg.Lock.Backend, "bus", cfg.Bus.Backend)

	var rdb *goredis.Client
	if cfg.Lock.Backend == BackendRedis || cfg.Bus.Backend == BackendRedis {
		if rdb, err = redisdb.New(log, cfg.Redis); err != nil {
			return a, fmt.Errorf("init redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	graphs, err := a.wireGraph(ctx)
	if err != nil {
		return a, err
	}
	deps := cascade.UsecasesDeps{
		Log:      log,
		Graphs:   graphs,
		Metrics:  metrics,
		Pipeline: cfg.Engine.Config,
		Progress: progress.Config{MaxRetries: cfg.Engine.ProgressMaxRetries},
		Query:    cfg.Engine.Recommend,
	}
	if err := a.wireProgress(&deps); err != nil {
		return a, err
	}

	switch cfg.Lock.Backend {
	case BackendRedis:
		deps.Locks, err = lock.NewRedis(rdb, log, lock.RedisConfig{TTL: cfg.Engine.LockTTL, Wait: cfg.Engine.LockWait})
		if err != nil {
			return a, fmt.Errorf("init redis lock: %w", err)
		}
	default:
		deps.Locks = lock.NewLocal(cfg.Engine.LockWait)
	}
	switch cfg.Bus.Backend {
	case BackendRedis:
		if a.bus, err = bus.NewRedisBus(log, rdb, cfg.Redis.Prefix); err != nil {
			return a, fmt.Errorf("init redis bus: %w", err)
		}
	default:
		a.bus = bus.NewLocalBus(cfg.Bus.Buffer)
	}
	deps.Bus = a.bus
	a.closers = append(a.closers, func(context.Context) error { return a.bus.Close() })

	a.Engine = cascade.New(deps)

	var launcher httpH.PipelineLauncher
	if cfg.Temporal.Enabled {
		tc, err := temporalx.NewClient(log, cfg.Temporal)
		if err != nil {
			return a, fmt.Errorf("init temporal: %w", err)
		}
		a.closers = append(a.closers, closeTemporal(tc))
		if a.worker, err = temporalworker.NewRunner(log, tc, cfg.Temporal, a.Engine.WithLog(log.With("component", "temporal"))); err != nil {
			return a, err
		}
		launcher = cascaderun.NewLauncher(tc, cfg.Temporal.TaskQueue)
	}

	a.Server = httpx.NewServer(cfg.HTTPAddr, httpx.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     otelServiceName(cfg),
		CORSOrigins:     cfg.CORSOrigins,
		CampaignHandler: httpH.NewCampaignHandler(a.Engine, launcher),
		PlayerHandler:   httpH.NewPlayerHandler(a.Engine),
		ResourceHandler: httpH.NewResourceHandler(a.Engine),
		HealthHandler:   httpH.NewHealthHandler(),
	})
	return a, nil
}

func (a *App) wireGraph(ctx context.Context) (graph.Store, error) {
	if a.Cfg.Graph.Backend != BackendNeo4j {
		return graph.NewMemStore(), nil
	}
	client, err := neo4jdb.New(a.Log, a.Cfg.Graph.Neo4j)
	if err != nil {
		return nil, fmt.Errorf("init neo4j: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	store, err := graph.NewNeo4jStore(client, a.Log)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("neo4j schema: %w", err)
	}
	return store, nil
}

func (a *App) wireProgress(deps *cascade.UsecasesDeps) error {
	if a.Cfg.Progress.Backend != BackendPostgres {
		return nil
	}
	pg, err := db.NewPostgresService(a.Log, a.Cfg.Progress.Postgres)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		return fmt.Errorf("postgres automigrate: %w", err)
	}
	deps.Events = repos.NewEventLog(repos.NewProgressEventRepo(pg.DB(), a.Log))
	deps.Runs = repos.NewRunStore(repos.NewCampaignRunRepo(pg.DB(), a.Log))
	deps.Reports = repos.NewReportStore(repos.NewValidationReportRepo(pg.DB(), a.Log))
	return nil
}

// Start launches background work: the Temporal worker and the progress
// event log forwarder. It returns once both are running.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	if err := a.bus.StartForwarder(ctx, realtime.ProgressTopic("*"), func(m realtime.Message) {
		a.Log.Debug("progress published", "topic", m.Topic, "event", m.Event)
	}); err != nil {
		return fmt.Errorf("start progress forwarder: %w", err)
	}
	if a.worker != nil {
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP listening", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run()
}

// Shutdown stops the server and background work, then releases backends in
// reverse order of acquisition.
func (a *App) Shutdown(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Log.Warn("close backend", "error", err)
		}
	}
	a.closers = nil
	a.Log.Sync()
}

func closeTemporal(tc temporalsdkclient.Client) func(context.Context) error {
	return func(context.Context) error {
		tc.Close()
		return nil
	}
}

func otelServiceName(cfg Config) string {
	if !cfg.Otel.Enabled {
		return ""
	}
	return cfg.Otel.ServiceName
}
