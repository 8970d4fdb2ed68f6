package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/maximaxme/subboy/internal/lib/sl"
)

// Handler обрабатывает тело одного сообщения.
type Handler func(ctx context.Context, body []byte) error

// ConsumerMessage читает очередь queueName и обрабатывает сообщения не более чем
// в workers горутинах. Сообщение подтверждается после обработки; при ошибке
// оно отклоняется без возврата в очередь, если обработку не прервали отменой. Возвращает, когда ctx отменён
// или канал закрыт, дождавшись обработки уже взятых сообщений.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, workers int,
	log *slog.Logger, handler Handler) error {
	const op = "rabbitmq.ConsumerMessage"

	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	consume(ctx, delivery, workers, log.With(slog.String("op", op), slog.String("queue", queueName)), handler)
	return nil
}

// consume раздаёт сообщения воркерам до отмены ctx или закрытия delivery.
// Отмена ctx прекращает приём новых сообщений, но не прерывает уже взятые:
// обработчики получают контекст без отмены.
func consume(ctx context.Context, delivery <-chan amqp.Delivery, workers int, log *slog.Logger, handler Handler) {
	if workers < 1 {
		workers = 1
	}
	handlerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, workers)
	for {
		select {
		case d, ok := <-delivery:
			if !ok {
				log.Warn("delivery channel closed")
				return
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				process(handlerCtx, log, d, handler)
			}(d)
		case <-ctx.Done():
			log.Info("consumer stopping, waiting for in-flight messages")
			return
		}
	}
}

// Acknowledger часть amqp.Delivery, нужная для подтверждения.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func process(ctx context.Context, log *slog.Logger, d amqp.Delivery, handler Handler) {
	handle(ctx, log, d.Body, deliveryAck{d}, handler)
}

type deliveryAck struct {
	d amqp.Delivery
}

func (a deliveryAck) Ack(multiple bool) error           { return a.d.Ack(multiple) }
func (a deliveryAck) Nack(multiple, requeue bool) error { return a.d.Nack(multiple, requeue) }

func handle(ctx context.Context, log *slog.Logger, body []byte, ack Acknowledger, handler Handler) {
	if err := handler(ctx, body); err != nil {
		// отменённая обработка возвращает сообщение в очередь
		requeue := errors.Is(err, context.Canceled)
		log.Warn("message not processed", slog.Bool("requeue", requeue), sl.Err(err))
		if nackErr := ack.Nack(false, requeue); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := ack.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
