package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/orbitfaas/orbit/internal/repository"
	"github.com/orbitfaas/orbit/pkg/engine/config"
	"github.com/orbitfaas/orbit/pkg/engine/dispatcher"
	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/engine/feed"
	"github.com/orbitfaas/orbit/pkg/engine/governor"
	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/engine/observability"
	"github.com/orbitfaas/orbit/pkg/engine/pool"
	"github.com/orbitfaas/orbit/pkg/engine/resolver"
	"github.com/orbitfaas/orbit/pkg/engine/sandbox"
	"github.com/orbitfaas/orbit/pkg/engine/trigger"
	"github.com/orbitfaas/orbit/pkg/types"
)

// Engine owns every runtime component of one execution node: the resolver
// chain, the context pool, admission control, the dispatcher, the cron
// feeder, and the invalidation listener. The HTTP server is a thin shell
// around it.
type Engine struct {
	cfg    *config.Config
	logger logging.Logger

	dbRepo   *repository.BadgerDBRepository
	gcStop   chan struct{}
	resolver resolver.Resolver
	cache    *resolver.CachedResolver

	pool       *pool.Pool
	governor   *governor.Governor
	dispatcher *dispatcher.Dispatcher
	feeder     *trigger.Feeder
	listener   *feed.Listener
	changeFeed *feed.RedisFeed
	router     *Router

	logStore *logging.DeploymentLogStore
	sink     *observability.AsyncSink
	metrics  *observability.MetricsCollector

	initialized bool
}

func NewEngine(cfg *config.Config) (*Engine, error) {
	logger := logging.NewZerologLogger(os.Stdout)
	return NewEngineWithLogger(cfg, logger)
}

func NewEngineWithLogger(cfg *config.Config, logger logging.Logger) (*Engine, error) {
	db, err := setupCache(cfg.Server.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to set up bundle cache: %w", err)
	}

	dbRepo := repository.NewBadgerDBRepository(db)
	local := resolver.NewBundleResolver(cfg.Server.DeploymentsDir)
	cache := resolver.NewCachedResolver(dbRepo, resolverDownloader{local})

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		dbRepo:   dbRepo,
		gcStop:   make(chan struct{}),
		resolver: cache,
		cache:    cache,
		router:   NewRouter(),
		logStore: logging.NewDeploymentLogStore(cfg.Engine.LogStoreCapacity),
		metrics:  observability.NewMetricsCollector(logger),
	}

	e.pool = pool.New(e.resolver, sandbox.NewQuickJS, logger, pool.Options{
		IdleTTL:       cfg.Pool.IdleTTL,
		SweepInterval: cfg.Pool.SweepInterval,
		DrainGrace:    cfg.Pool.DrainGrace,
	})

	e.governor = governor.New(logger, governor.Options{
		MaxConcurrent:    cfg.Governor.MaxConcurrent,
		MaxPerDeployment: cfg.Governor.MaxPerDeployment,
		MaxQueueDepth:    cfg.Governor.MaxQueueDepth,
		QueueWait:        cfg.Governor.QueueWait,
	})

	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	e.sink = observability.NewAsyncSink(observability.NewLogSink(zl), cfg.Engine.SinkBuffer)

	e.dispatcher = dispatcher.New(e.pool, e.governor, e.sink, logger, dispatcher.Options{
		DefaultTimeout: cfg.Engine.DefaultTimeout,
	}).WithMetrics(e.metrics).WithLogStore(e.logStore)

	e.feeder = trigger.NewFeeder(e.dispatcher, logger)

	if cfg.Feed.Enabled {
		changeFeed, err := feed.NewRedisFeed(feed.RedisOptions{
			Address:  cfg.Feed.RedisAddr,
			Password: cfg.Feed.RedisPassword,
			DB:       cfg.Feed.RedisDB,
			Channel:  cfg.Feed.Channel,
		}, logger)
		if err != nil {
			dbRepo.Close()
			return nil, fmt.Errorf("failed to connect change feed: %w", err)
		}
		e.changeFeed = changeFeed
		e.listener = feed.NewListener(changeFeed, logger, feed.Options{
			InitialBackoff: cfg.Feed.InitialBackoff,
			MaxBackoff:     cfg.Feed.MaxBackoff,
		})
		e.listener.AddHandler(feed.HandlerFunc(e.HandleChange))
	}

	e.initialized = true
	return e, nil
}

func setupCache(cacheDir string) (*badger.DB, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(cacheDir, "bundles.db"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	return db, nil
}

// resolverDownloader adapts a Resolver into the Downloader the cache fronts.
type resolverDownloader struct {
	inner resolver.Resolver
}

func (d resolverDownloader) Download(ctx context.Context, id types.DeploymentID) (*resolver.Deployment, error) {
	return d.inner.Resolve(ctx, id)
}

// Start runs the node until ctx is done, then shuts everything down.
func (e *Engine) Start(ctx context.Context) error {
	if !e.initialized {
		return errors.ErrEngineNotInitialized
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.pool.StartSweeper(runCtx)
	go e.dbRepo.RunGC(10*time.Minute, e.gcStop)
	e.feeder.Start(runCtx)
	if e.listener != nil {
		go e.listener.Run(runCtx)
	}

	server := NewServer(e.cfg.Server.HTTPAddr, NewHandlers(e, e.logger), e.logger)
	err := server.Start(runCtx)

	e.shutdown()
	return err
}

func (e *Engine) shutdown() {
	e.logger.Printf("Shutting down engine")
	e.feeder.Stop()
	e.pool.Shutdown()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.sink.Close(flushCtx); err != nil {
		e.logger.Errorf("Observability sink did not flush cleanly: %v", err)
	}

	if e.changeFeed != nil {
		if err := e.changeFeed.Close(); err != nil {
			e.logger.Errorf("Error closing change feed: %v", err)
		}
	}
	close(e.gcStop)
	if err := e.dbRepo.Close(); err != nil {
		e.logger.Errorf("Error closing cache database: %v", err)
	}
	e.logger.Printf("Engine shutdown complete")
}

// Dispatch runs one invocation through admission, the pool, and the sandbox.
func (e *Engine) Dispatch(ctx context.Context, req *types.InvocationRequest) *types.InvocationResponse {
	return e.dispatcher.Dispatch(ctx, req)
}

// Router returns the function-to-active-version routing table.
func (e *Engine) Router() *Router { return e.router }

// LogStore returns the per-deployment console log store.
func (e *Engine) LogStore() *logging.DeploymentLogStore { return e.logStore }

// Metrics returns the invocation metrics collector.
func (e *Engine) Metrics() *observability.MetricsCollector { return e.metrics }

// HandleChange applies one catalog change event: routing, invalidation,
// cache eviction, and cron registration. Safe to call repeatedly with the
// same event.
func (e *Engine) HandleChange(evt types.ChangeEvent) {
	switch evt.Kind {
	case types.ChangeDeployed:
		e.applyDeployed(evt)
	case types.ChangeRemoved:
		e.applyRemoved(evt)
	default:
		e.logger.Errorf("Ignoring change event with unknown kind %q", evt.Kind)
	}
}

func (e *Engine) applyDeployed(evt types.ChangeEvent) {
	id := types.NewDeploymentID(evt.FunctionID, evt.VersionID)
	e.router.SetActive(evt.FunctionID, evt.VersionID)
	e.logger.Printf("Deployment %s is now active", id)

	// Retire the superseded version without waiting for the idle sweep.
	if prev := evt.PreviousVersionID; prev != "" && prev != evt.VersionID {
		prevID := types.NewDeploymentID(evt.FunctionID, prev)
		e.pool.Invalidate(evt.FunctionID, prev)
		e.governor.Forget(prevID)
		e.logStore.Remove(prevID.String())
		if err := e.cache.Evict(prevID); err != nil {
			e.logger.Errorf("Failed to evict cached bundle for %s: %v", prevID, err)
		}
	}

	// Warm the new version and register its cron trigger, off the feed
	// goroutine so a slow resolve cannot stall event handling.
	go e.warmDeployment(id)
}

func (e *Engine) warmDeployment(id types.DeploymentID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dep, err := e.resolver.Resolve(ctx, id)
	if err != nil {
		e.logger.Errorf("Failed to resolve deployed version %s: %v", id, err)
		return
	}

	if schedule, ok := dep.Descriptor.CronSchedule(); ok {
		if err := e.feeder.Register(id, schedule); err != nil {
			e.logger.Errorf("Failed to register cron trigger for %s: %v", id, err)
		}
	}
}

func (e *Engine) applyRemoved(evt types.ChangeEvent) {
	e.pool.Invalidate(evt.FunctionID, evt.VersionID)

	if evt.VersionID == "" {
		e.router.Remove(evt.FunctionID)
		e.feeder.RemoveFunction(evt.FunctionID)
		e.logger.Printf("Function %s removed", evt.FunctionID)
		return
	}

	id := types.NewDeploymentID(evt.FunctionID, evt.VersionID)
	if active, ok := e.router.Lookup(evt.FunctionID); ok && active.VersionID == evt.VersionID {
		e.router.Remove(evt.FunctionID)
	}
	e.feeder.Remove(id)
	e.governor.Forget(id)
	e.logStore.Remove(id.String())
	if err := e.cache.Evict(id); err != nil {
		e.logger.Errorf("Failed to evict cached bundle for %s: %v", id, err)
	}
	e.logger.Printf("Deployment %s removed", id)
}

// Status summarizes the node's runtime state for the status endpoint.
type Status struct {
	WarmContexts int               `json:"warm_contexts"`
	InFlight     int               `json:"in_flight"`
	Queued       int               `json:"queued"`
	Scheduled    int               `json:"scheduled_triggers"`
	Routes       map[string]string `json:"routes"`
	DroppedSinks int64             `json:"dropped_sink_records"`
}

func (e *Engine) Status() Status {
	return Status{
		WarmContexts: e.pool.Len(),
		InFlight:     e.governor.InFlight(),
		Queued:       e.governor.Queued(),
		Scheduled:    len(e.feeder.Scheduled()),
		Routes:       e.router.Snapshot(),
		DroppedSinks: e.sink.Dropped(),
	}
}
