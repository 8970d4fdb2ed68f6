package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/maximaxme/subboy/internal/config"
)

// QueueConfig очередь и ключ, которым она привязана к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Topology обменник и привязанные к нему очереди.
type Topology struct {
	Exchange string
	Queues   []QueueConfig
	Prefetch int
}

// NotificationTopology возвращает топологию очереди напоминаний из конфига.
func NotificationTopology(cfg config.RabbitMQ) Topology {
	return Topology{
		Exchange: cfg.Exchange,
		Queues:   []QueueConfig{{QueueName: cfg.Queue, RoutingKey: cfg.RoutingKey}},
		Prefetch: cfg.Workers,
	}
}

// SetupChannel открывает канал и объявляет durable direct-обменник и очереди.
func SetupChannel(conn *amqp.Connection, topology Topology) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := declare(ch, topology); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ch, nil
}

func declare(ch *amqp.Channel, topology Topology) error {
	if topology.Prefetch > 0 {
		if err := ch.Qos(topology.Prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	err := ch.ExchangeDeclare(
		topology.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", topology.Exchange, err)
	}

	for _, q := range topology.Queues {
		_, err := ch.QueueDeclare(
			q.QueueName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.QueueName, err)
		}
		err = ch.QueueBind(
			q.QueueName,
			q.RoutingKey,
			topology.Exchange,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue %s with routing key %s: %w", q.QueueName, q.RoutingKey, err)
		}
	}
	return nil
}
