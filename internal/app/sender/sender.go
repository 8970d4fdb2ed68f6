// Package sender собирает процесс отправки: читает очередь исходящих сообщений
// и доставляет их в Telegram.
package sender

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

	"github.com/maximaxme/subboy/internal/config"
	"github.com/maximaxme/subboy/internal/http/handlers/health"
	"github.com/maximaxme/subboy/internal/http/router"
	"github.com/maximaxme/subboy/internal/lib/rabbitmq"
	"github.com/maximaxme/subboy/internal/lib/sl"
	"github.com/maximaxme/subboy/internal/lib/telegram"
	"github.com/maximaxme/subboy/internal/metrics"
	senderservice "github.com/maximaxme/subboy/internal/services/sender"
)

// App процесс отправки сообщений из очереди.
type App struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	dispatcher *senderservice.Dispatcher
	server     *http.Server
	cfg        config.RabbitMQ
	logger     *slog.Logger
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

// New подключается к RabbitMQ и создаёт клиент Bot API.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	client, err := telegram.New(cfg.Telegram, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	rmq := cfg.RabbitMQ
	conn, err := rabbitmq.Connect(ctx, rmq.RabbitMQURL, rmq.RabbitMQMaxRetries, rmq.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.NotificationTopology(rmq))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	srv := &http.Server{
		Addr: cfg.AddressHTTP,
		Handler: router.NewRouter(logger, router.Deps{
			Checks:   map[string]health.Pinger{"rabbitmq": connPinger{conn}},
			Gatherer: reg,
		}),
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		conn:       conn,
		ch:         ch,
		dispatcher: senderservice.New(client, logger, m),
		server:     srv,
		cfg:        rmq,
		logger:     logger,
	}, nil
}

// Run читает очередь до отмены ctx, затем закрывает соединения.
func (a *App) Run(ctx context.Context) error {
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server stopped", sl.Err(err))
		}
	}()

	err := rabbitmq.ConsumerMessage(ctx, a.ch, a.cfg.Queue, a.cfg.Workers, a.logger, a.dispatcher.HandleQueued)
	if err != nil {
		a.logger.Error("failed to consume queue", slog.String("queue", a.cfg.Queue), sl.Err(err))
	}

	a.logger.Info("sender service shutting down gracefully")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if shErr := a.server.Shutdown(timeoutCtx); shErr != nil {
		a.logger.Error("failed to shutdown HTTP server", sl.Err(shErr))
	}
	if cErr := a.ch.Close(); cErr != nil {
		a.logger.Error("failed to close channel", sl.Err(cErr))
	}
	if cErr := a.conn.Close(); cErr != nil {
		a.logger.Error("failed to close connection", sl.Err(cErr))
	}
	return err
}
