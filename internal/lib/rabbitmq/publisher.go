package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/maximaxme/subboy/internal/models"
)

// Publisher часть amqp.Channel, нужная для публикации.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в RabbitMQ в формате JSON.
func PublishMessage(ch Publisher, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Notifier ставит сообщения в очередь вместо прямой отправки.
// Доставкой занимается отдельный процесс, читающий очередь.
type Notifier struct {
	mu         sync.Mutex
	ch         Publisher
	exchange   string
	routingKey string
}

// NewNotifier создаёт Notifier поверх канала.
func NewNotifier(ch Publisher, exchange, routingKey string) *Notifier {
	return &Notifier{ch: ch, exchange: exchange, routingKey: routingKey}
}

// Send публикует сообщение для чата chatID.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq.Notifier.Send: %w", err)
	}
	// amqp.Channel не рассчитан на конкурентную публикацию
	n.mu.Lock()
	defer n.mu.Unlock()
	return PublishMessage(n.ch, n.exchange, n.routingKey, models.OutgoingMessage{ChatID: chatID, Text: text})
}
