// Package bootstrap wires configuration, logging, metrics, connections and
// the health server shared by the pipeline binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	// database/sql drivers for the ops (PostgreSQL) and CRM (MariaDB) stores
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/trinhhung12345/data-warehouse/internal/config"
	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
	"github.com/trinhhung12345/data-warehouse/internal/health"
	"github.com/trinhhung12345/data-warehouse/internal/logging"
	"github.com/trinhhung12345/data-warehouse/internal/metrics"
	"github.com/trinhhung12345/data-warehouse/internal/queue"
	"github.com/trinhhung12345/data-warehouse/internal/resilience"
	"github.com/trinhhung12345/data-warehouse/internal/scheduler"
	"github.com/trinhhung12345/data-warehouse/internal/warehouse"
)

// Version is stamped at build time with -ldflags
var Version = "dev"

// App holds the process-wide dependencies of one binary
type App struct {
	Name    string
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Health  *health.Server

	retry   *resilience.RetryManager
	runners []*scheduler.Runner
	closers []func()
}

// New loads configuration and builds the logger, collector and health server
func New(name, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Service:     name,
		Version:     Version,
		Level:       cfg.Logging.Level,
		Environment: cfg.Logging.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	collector := metrics.NewCollector()
	app := &App{
		Name:    name,
		Config:  cfg,
		Logger:  logger,
		Metrics: collector,
		Health: health.NewServer(health.Options{
			Service:    name,
			Version:    Version,
			Port:       cfg.Service.HealthPort,
			StaleAfter: cfg.Service.StaleAfter(),
		}, collector, logging.Component(logger, "health")),
		retry: resilience.NewRetryManager(resilience.DefaultRetryPolicy(), logging.Component(logger, "startup")),
	}

	logger.Info("Starting",
		zap.String("go_version", runtime.Version()),
		zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
		zap.String("stream", cfg.Stream.Name),
		zap.String("consumer", cfg.Stream.Consumer))
	return app, nil
}

// Redis connects to Redis, retrying until it answers PING
func (a *App) Redis(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	err := a.retry.Execute(ctx, "connect redis", func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return etlerr.Transient("ping redis", err)
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	a.closers = append(a.closers, func() { client.Close() })
	a.Health.AddCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
	a.Logger.Info("Connected to Redis", zap.String("addr", a.Config.Redis.Addr))
	return client, nil
}

// Stream returns the durable queue on client configured for this process
func (a *App) Stream(client redis.Cmdable) *queue.Stream {
	return queue.NewStream(client, queue.Options{
		Name:         a.Config.Stream.Name,
		Group:        a.Config.Stream.Group,
		Consumer:     a.Config.Stream.Consumer,
		MaxLen:       a.Config.Stream.MaxLen,
		ClaimMinIdle: a.Config.Loader.ClaimMinIdle(),
		DeleteAcked:  a.Config.Loader.DeleteAcked,
	})
}

// OpsDB opens the operational PostgreSQL store
func (a *App) OpsDB(ctx context.Context) (*sql.DB, error) {
	return a.openSQL(ctx, "ops", "postgres", a.Config.Ops.ConnectionString())
}

// CRMDB opens the CRM MariaDB store
func (a *App) CRMDB(ctx context.Context) (*sql.DB, error) {
	return a.openSQL(ctx, "crm", "mysql", a.Config.CRM.ConnectionString())
}

func (a *App) openSQL(ctx context.Context, name, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, etlerr.FatalConfig("open "+name, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	err = a.retry.Execute(ctx, "connect "+name, func(ctx context.Context) error {
		return etlerr.Wrap("ping "+name, db.PingContext(ctx))
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	a.closers = append(a.closers, func() { db.Close() })
	a.Health.AddCheck(name, db.PingContext)
	a.Logger.Info("Connected to database", zap.String("store", name), zap.String("driver", driver))
	return db, nil
}

// Warehouse connects the pgx pool of the warehouse
func (a *App) Warehouse(ctx context.Context) (*warehouse.Warehouse, error) {
	var pool *pgxpool.Pool
	err := a.retry.Execute(ctx, "connect warehouse", func(ctx context.Context) error {
		var err error
		pool, err = warehouse.Connect(ctx, a.Config.Warehouse.ConnectionString(), a.Config.Warehouse.MaxConns)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, pool.Close)
	a.Health.AddCheck("warehouse", pool.Ping)
	a.Logger.Info("Connected to warehouse")
	return warehouse.New(pool), nil
}

// Runner creates a scheduler for step, reports its states and step
// durations to the collector and registers it with the health server
func (a *App) Runner(component string, step scheduler.Step, backoff time.Duration, detail func() any) *scheduler.Runner {
	states := scheduler.StateNames()
	r := scheduler.NewRunner(component, step, backoff, logging.Component(a.Logger, component),
		scheduler.WithTransitionHook(func(t scheduler.Transition) {
			a.Metrics.SetState(component, states, string(t.To))
		}),
		scheduler.WithStepHook(func(d time.Duration) {
			a.Metrics.ObserveStep(component, d)
		}),
	)
	a.Metrics.SetState(component, states, string(r.State()))
	a.Health.RegisterComponent(component, r, detail)
	a.runners = append(a.runners, r)
	return r
}

// Run serves health and runs every registered runner until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Health.Run(ctx) })
	for _, r := range a.runners {
		r := r
		g.Go(func() error { return r.Run(ctx) })
	}
	return g.Wait()
}

// Close releases connections in reverse order and flushes the logger
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.Logger.Info("Stopped")
	_ = a.Logger.Sync()
}
