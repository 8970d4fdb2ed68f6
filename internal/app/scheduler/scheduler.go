// Package scheduler собирает процесс планировщика: хранилище, доставку сообщений,
// сервисы сдвига дат и напоминаний, раннер задач и служебный HTTP-сервер.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/maximaxme/subboy/internal/cache"
	"github.com/maximaxme/subboy/internal/config"
	"github.com/maximaxme/subboy/internal/http/handlers/health"
	"github.com/maximaxme/subboy/internal/http/router"
	"github.com/maximaxme/subboy/internal/lib/rabbitmq"
	"github.com/maximaxme/subboy/internal/lib/sl"
	"github.com/maximaxme/subboy/internal/lib/telegram"
	"github.com/maximaxme/subboy/internal/metrics"
	"github.com/maximaxme/subboy/internal/migrations"
	"github.com/maximaxme/subboy/internal/runner"
	"github.com/maximaxme/subboy/internal/services/advancement"
	schedulerservice "github.com/maximaxme/subboy/internal/services/scheduler"
	"github.com/maximaxme/subboy/internal/services/sender"
	"github.com/maximaxme/subboy/internal/services/subscription"
	"github.com/maximaxme/subboy/internal/storage/repository"
)

// Core зависимости, общие для процесса планировщика и консольной утилиты.
type Core struct {
	Config        *config.Config
	DB            *repository.Storage
	Cache         *cache.Cache
	Metrics       *metrics.Metrics
	Subscriptions *subscription.SubscriptionService // nil без Redis
	Advancer      *advancement.Advancer
	Scheduler     *schedulerservice.SchedulerService

	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	for i := 0; i < 10; i++ {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// NewCore подключается к базе, применяет миграции и собирает сервисы.
// Redis подключается, только если указан адрес. reg может быть nil.
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Core, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	c := &Core{Config: cfg, DB: db, logger: logger}

	if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		c.Close()
		return nil, err
	}
	if err := waitForDB(ctx, db); err != nil {
		c.Close()
		return nil, err
	}

	if cfg.AddressRedis != "" {
		c.Cache, err = cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
	}

	notifier, err := c.newNotifier(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Metrics = metrics.New(reg)
	dispatcher := sender.New(notifier, logger, c.Metrics)
	c.Advancer = advancement.New(db, logger, c.Metrics)
	if c.Cache != nil {
		c.Subscriptions = subscription.NewSubscriptionService(db, c.Cache, logger, cfg.Scheduler.DefaultNotifyHour)
		c.Advancer.WithInvalidator(c.Subscriptions)
	}
	c.Scheduler = schedulerservice.NewSchedulerService(db, c.Advancer, dispatcher, cfg.Scheduler, logger)
	return c, nil
}

// newNotifier выбирает способ доставки: напрямую в Bot API или через очередь.
func (c *Core) newNotifier(ctx context.Context) (sender.Notifier, error) {
	if c.Config.Telegram.Mode != config.TelegramQueue {
		client, err := telegram.New(c.Config.Telegram, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram client: %w", err)
		}
		return client, nil
	}

	rmq := c.Config.RabbitMQ
	conn, err := rabbitmq.Connect(ctx, rmq.RabbitMQURL, rmq.RabbitMQMaxRetries, rmq.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	c.conn = conn

	topology := rabbitmq.NotificationTopology(rmq)
	ch, err := rabbitmq.SetupChannel(conn, topology)
	if err != nil {
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	c.ch = ch
	return rabbitmq.NewNotifier(ch, topology.Exchange, rmq.RoutingKey), nil
}

// Checks зависимости для /healthz.
func (c *Core) Checks() map[string]health.Pinger {
	checks := map[string]health.Pinger{"postgres": c.DB}
	if c.Cache != nil {
		checks["redis"] = c.Cache
	}
	if c.conn != nil {
		checks["rabbitmq"] = connPinger{c.conn}
	}
	return checks
}

// Close освобождает все открытые соединения.
func (c *Core) Close() {
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.logger.Error("failed to close storage", sl.Err(err))
		}
	}
}

type connPinger struct {
	conn *amqp.Connection
}

func (p connPinger) Ping(context.Context) error {
	if p.conn.IsClosed() {
		return errors.New("connection is closed")
	}
	return nil
}

// App представляет приложение планировщика.
type App struct {
	core   *Core
	runner *runner.Runner
	server *http.Server
	logger *slog.Logger
}

// New создает новый экземпляр приложения планировщика и регистрирует задачи.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	core, err := NewCore(ctx, cfg, logger, reg)
	if err != nil {
		return nil, err
	}

	opts := runner.Options{
		PollInterval:    cfg.Scheduler.PollInterval,
		MisfireGrace:    cfg.Scheduler.MisfireGrace,
		JobTimeout:      cfg.Scheduler.JobTimeout,
		ShutdownTimeout: cfg.Scheduler.ShutdownTimeout,
		LockTTL:         cfg.Scheduler.LockTTL,
		Metrics:         core.Metrics,
	}
	if core.Cache != nil {
		opts.Recorder = core.Cache
		if cfg.Scheduler.UseLock {
			opts.Locker = core.Cache
		}
	}
	r := runner.New(logger, opts)
	for _, job := range core.Scheduler.Jobs() {
		if err := r.Register(job); err != nil {
			core.Close()
			return nil, err
		}
	}

	srv := &http.Server{
		Addr: cfg.AddressHTTP,
		Handler: router.NewRouter(logger, router.Deps{
			Checks:   core.Checks(),
			Runner:   r,
			Gatherer: reg,
		}),
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		core:   core,
		runner: r,
		server: srv,
		logger: logger,
	}, nil
}

// Run запускает раннер и HTTP-сервер и блокируется до отмены ctx.
// При остановке раннер дожидается выполняющихся задач.
func (a *App) Run(ctx context.Context) error {
	a.runner.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	a.logger.Info("shutting down scheduler service")
	a.runner.Stop()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("failed to shutdown HTTP server", sl.Err(err))
	}
	a.core.Close()
	return runErr
}
