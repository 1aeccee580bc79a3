// Package app wires configuration, storage, the job queue and the HTTP
// surface into one process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/comment-insights/pkg/config"
	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/logging"
	"github.com/ekaya-inc/comment-insights/pkg/realtime"
	"github.com/ekaya-inc/comment-insights/pkg/services"
	"github.com/ekaya-inc/comment-insights/pkg/services/workqueue"
)

const shutdownTimeout = 15 * time.Second

// App holds every long-lived component of a process. The serve and worker
// commands build the same App and differ only in what they run.
type App struct {
	Cfg      *config.Config
	Logger   *zap.Logger
	DB       *database.DB
	Redis    *redis.Client // nil when Redis is not configured
	Bus      *events.Bus
	Queues   *workqueue.Manager
	Repos    Repos
	Services Services
	Hub      *realtime.Hub
	Handler  http.Handler

	relay *events.RedisRelay
}

// New connects to Postgres (and Redis when configured) and wires the
// application. The relay it starts lives until ctx ends or Close is called.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{Cfg: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.DB, err = database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	a.Redis, err = database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	a.Bus = events.NewBus(uuid.NewString(), logger)

	var broker workqueue.Broker
	if a.Redis != nil {
		broker = workqueue.NewRedisBroker(a.Redis, cfg.Redis.KeyPrefix)
		a.relay = events.NewRedisRelay(a.Bus, a.Redis, cfg.Redis.EventChannel, logger)
		if err = a.relay.Start(ctx); err != nil {
			return nil, fmt.Errorf("start event relay: %w", err)
		}
	} else {
		logger.Warn("Redis not configured; jobs are kept in memory and lost on restart")
		broker = workqueue.NewMemoryBroker()
	}

	a.Queues = workqueue.NewManager(broker, logger,
		workqueue.WithBus(a.Bus),
		workqueue.WithConfig(workqueue.Config{
			Concurrency:     cfg.Queue.Concurrency,
			Attempts:        cfg.Queue.Attempts,
			Backoff:         cfg.Queue.Backoff(),
			RetainCompleted: cfg.Queue.RetainCompleted,
			RetainFailed:    cfg.Queue.RetainFailed,
			LeaseDuration:   cfg.Queue.Lease(),
		}))

	a.Repos = wireRepos()
	a.Services, err = wireServices(cfg, a.DB, a.Bus, a.Queues, a.Repos, logger)
	if err != nil {
		return nil, err
	}

	authMiddleware, err := newAuthMiddleware(&cfg.Auth, logger)
	if err != nil {
		return nil, err
	}

	a.Hub = realtime.NewHub(realtime.Options{OriginPatterns: cfg.AllowedOrigins}, logger)
	a.Handler = wireRouter(cfg, a.DB, a.Hub, a.Services, a.Repos, authMiddleware, logger)
	return a, nil
}

// Serve runs the HTTP API and WebSocket hub until ctx ends. With
// withWorker set, the same process also consumes the analysis queue.
func (a *App) Serve(ctx context.Context, withWorker bool) error {
	a.Hub.Attach(a.Bus)

	srv := &http.Server{
		Addr:              net.JoinHostPort(a.Cfg.BindAddr, a.Cfg.Port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("Starting comment-insights",
			zap.String("addr", srv.Addr),
			zap.String("base_url", a.Cfg.BaseURL),
			zap.String("version", a.Cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	if withWorker {
		g.Go(func() error { return a.Work(gctx) })
	}
	return g.Wait()
}

// Work consumes the analysis queue until ctx ends.
func (a *App) Work(ctx context.Context) error {
	worker := a.Queues.CreateWorker(services.AnalyzeCommentsQueue, a.Services.Processor.Process)
	return worker.Run(ctx)
}

// Close releases every connection. It is safe on a partially built App.
func (a *App) Close() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.Logger.Warn("Failed to close event relay", zap.Error(err))
		}
	}
	if a.Queues != nil {
		a.Queues.Close()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// Migrate applies pending schema and seed migrations.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	dsn := cfg.Database.URL()
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", logging.SanitizeConnectionString(dsn), err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", logging.SanitizeConnectionString(dsn), err)
	}
	return database.RunMigrations(sqlDB, logger)
}
