// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/api"
	"github.com/ltphuoc/media-scraper/internal/config"
	"github.com/ltphuoc/media-scraper/internal/detector"
	collyfetcher "github.com/ltphuoc/media-scraper/internal/fetcher/colly"
	"github.com/ltphuoc/media-scraper/internal/fetcher/headless"
	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/metrics"
	"github.com/ltphuoc/media-scraper/internal/monitor"
	"github.com/ltphuoc/media-scraper/internal/policy/ratelimit"
	"github.com/ltphuoc/media-scraper/internal/policy/retry"
	"github.com/ltphuoc/media-scraper/internal/progress"
	progresssinks "github.com/ltphuoc/media-scraper/internal/progress/sinks"
	"github.com/ltphuoc/media-scraper/internal/queue"
	memqueue "github.com/ltphuoc/media-scraper/internal/queue/memory"
	redisqueue "github.com/ltphuoc/media-scraper/internal/queue/redis"
	"github.com/ltphuoc/media-scraper/internal/scrape"
	"github.com/ltphuoc/media-scraper/internal/storage"
	memstore "github.com/ltphuoc/media-scraper/internal/storage/memory"
	pgstore "github.com/ltphuoc/media-scraper/internal/storage/postgres"
	"github.com/ltphuoc/media-scraper/internal/worker"
)

// dbConnectPolicy retries the startup ping the same way Redis reconnects.
var dbConnectPolicy = retry.Linear{Attempts: 10, Step: 500 * time.Millisecond, Max: 5 * time.Second}

// App holds the shared, long-lived services of one process. It is built once
// at startup by the command being run and closed when that command returns.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    storage.Provider
	queue    queue.Backend
	redis    *redisv8.Client
	hub      *progress.Hub
	browser  *headless.Browser
	scraper  *scrape.Service
	monitor  *monitor.Monitor
	registry prometheus.Registerer
}

// Option customizes App construction.
type Option func(*App)

// WithRegisterer sets where the progress Prometheus collectors are
// registered. Defaults to the global registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registry = reg }
}

// New creates the persistence backend, the job queue, the progress hub and
// the scrape pipeline from cfg. It fails fast if a backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(a)
	}
	metrics.Init()
	a.logger.Info("initializing application services",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("db_backend", cfg.DB.Backend),
		zap.Bool("render_enabled", cfg.Render.Enabled),
	)

	var err error
	if a.store, err = a.setupStore(ctx); err != nil {
		return nil, err
	}
	if a.queue, err = a.setupQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.hub, err = a.setupProgress(); err != nil {
		a.Close()
		return nil, err
	}
	a.scraper, a.browser = NewPipeline(cfg, a.hub, a.logger)

	var monOpts []monitor.Option
	if rq, ok := a.queue.(*redisqueue.Queue); ok {
		monOpts = append(monOpts, monitor.WithBrokerMemory(rq))
	}
	a.monitor = monitor.New(a.queue, monOpts...)

	a.logger.Info("application services initialized")
	return a, nil
}

func (a *App) setupStore(ctx context.Context) (storage.Provider, error) {
	switch a.cfg.DB.Backend {
	case config.BackendPostgres:
		st, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeSeconds) * time.Second,
			Connect:         dbConnectPolicy,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if a.cfg.DB.Migrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
			a.logger.Info("postgres schema ready")
		}
		return st, nil
	default:
		a.logger.Info("using in-memory media store")
		return memstore.NewStore(nil), nil
	}
}

func (a *App) setupQueue(ctx context.Context) (queue.Backend, error) {
	switch a.cfg.Queue.Backend {
	case config.BackendRedis:
		q, err := redisqueue.New(ctx, redisqueue.Config{
			Conn: redisqueue.ConnConfig{
				Addr:          a.cfg.Redis.Addr,
				Password:      a.cfg.Redis.Password,
				DB:            a.cfg.Redis.DB,
				MaxReconnects: a.cfg.Redis.MaxReconnects,
				ReconnectStep: time.Duration(a.cfg.Redis.ReconnectStepMs) * time.Millisecond,
				ReconnectMax:  time.Duration(a.cfg.Redis.ReconnectMaxMs) * time.Millisecond,
			},
			Name:            a.cfg.Queue.Name,
			Retention:       queue.OptionsFromConfig(a.cfg.Queue),
			JobTimeout:      time.Duration(a.cfg.Queue.JobTimeoutSeconds) * time.Second,
			JanitorInterval: a.cfg.JanitorInterval(),
			ShutdownTimeout: a.cfg.ShutdownTimeout(),
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("redis queue init failed: %w", err)
		}
		a.redis = q.Client()
		a.logger.Info("using redis job queue", zap.String("addr", a.cfg.Redis.Addr), zap.String("queue", a.cfg.Queue.Name))
		return q, nil
	default:
		a.logger.Info("using in-memory job queue")
		return memqueue.NewQueue(
			memqueue.WithJobTimeout(time.Duration(a.cfg.Queue.JobTimeoutSeconds)*time.Second),
			memqueue.WithLogger(a.logger),
		), nil
	}
}

func (a *App) setupProgress() (*progress.Hub, error) {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.redis != nil && a.cfg.Redis.EventsChannel != "" {
		sinkList = append(sinkList, progresssinks.NewRedisSink(a.redis, a.cfg.Redis.EventsChannel))
		a.logger.Debug("added redis progress sink", zap.String("channel", a.cfg.Redis.EventsChannel))
	}
	return progress.NewHub(progress.Config{
		Buffer:        a.cfg.Progress.Buffer,
		FlushInterval: a.cfg.ProgressFlushInterval(),
		Logger:        a.logger.Named("progress_hub"),
	}, sinkList...), nil
}

// NewPipeline builds the per-URL scrape service. The returned browser is nil
// when rendering is disabled; otherwise the caller closes it.
func NewPipeline(cfg config.Config, emitter progress.Emitter, logger *zap.Logger) (*scrape.Service, *headless.Browser) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Scrape.UserAgent,
		RespectRobots: cfg.Scrape.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	detect := detector.NewHeuristic(detector.Config{
		MinHTMLBytes: cfg.Detector.MinHTMLBytes,
		RootIDs:      cfg.Detector.RootIDs,
		Markers:      cfg.Detector.Markers,
	})
	opts := []scrape.Option{
		scrape.WithEmitter(emitter),
		scrape.WithLogger(logger.Named("scrape")),
	}
	var browser *headless.Browser
	if cfg.Render.Enabled {
		browser = headless.NewBrowser(headless.BrowserConfig{
			ExecPath:  cfg.Render.ExecPath,
			NoSandbox: true,
		}, logger)
		rendererOpts := []headless.Option{headless.WithLogger(logger)}
		if cfg.Render.DomainQPS > 0 {
			rendererOpts = append(rendererOpts, headless.WithDomainLimiter(ratelimit.New(ratelimit.Config{
				DefaultRPS:   cfg.Render.DomainQPS,
				DefaultBurst: 1,
			})))
		}
		renderer := headless.NewRenderer(headless.Config{
			MaxParallel:    cfg.Render.MaxParallel,
			Timeout:        time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
			BodyWait:       time.Duration(cfg.Render.BodyWaitSeconds) * time.Second,
			Settle:         time.Duration(cfg.Render.SettleMillis) * time.Millisecond,
			ScrollStep:     cfg.Render.ScrollStepPx,
			ScrollInterval: time.Duration(cfg.Render.ScrollIntervalMs) * time.Millisecond,
			ScrollMax:      cfg.Render.ScrollMaxPx,
			ViewportWidth:  cfg.Render.ViewportWidth,
			ViewportHeight: cfg.Render.ViewportHeight,
			UserAgent:      cfg.Render.UserAgent,
		}, browser, rendererOpts...)
		opts = append(opts, scrape.WithRenderer(renderer))
		logger.Info("headless rendering enabled", zap.Int("max_parallel", cfg.Render.MaxParallel))
	}
	return scrape.NewService(fetcher, detect, opts...), browser
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the persistence backend.
func (a *App) Store() storage.Provider { return a.store }

// Queue returns the job queue backend.
func (a *App) Queue() queue.Backend { return a.queue }

// Scraper returns the per-URL pipeline.
func (a *App) Scraper() media.Scraper { return a.scraper }

// Monitor returns the process request and runtime monitor.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// Worker builds the job handler consumed by the queue.
func (a *App) Worker() *worker.Worker {
	return worker.New(a.scraper, a.store, worker.Config{ChunkSize: a.cfg.Worker.ChunkSize},
		worker.WithEmitter(a.hub),
		worker.WithLogger(a.logger),
	)
}

// APIServer builds the HTTP API over the shared services.
func (a *App) APIServer() *api.Server {
	deps := api.Deps{
		Queue:    a.queue,
		Media:    a.store,
		Monitor:  a.monitor,
		Database: a.store,
	}
	if a.redis != nil {
		deps.Redis = a.queue
	}
	return api.NewServer(api.Config{
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		BasicUser:      a.cfg.Auth.BasicUser,
		BasicPass:      a.cfg.Auth.BasicPass,
		RequestTimeout: a.cfg.RequestTimeout(),
		JobOptions:     queue.OptionsFromConfig(a.cfg.Queue),
	}, deps, a.logger)
}

// Close shuts down every service in reverse construction order.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.browser != nil {
		a.browser.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}
