// Package sender доставляет напоминания пользователям.
//
// Ошибка доставки одному получателю логируется и учитывается, но не прерывает рассылку
// остальным. Повторных попыток в рамках прогона нет, состояние доставки не сохраняется.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maximaxme/subboy/internal/lib/sl"
	"github.com/maximaxme/subboy/internal/metrics"
	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/services/reminder"
)

// Notifier транспорт: отправляет текст в чат.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Result итог одной рассылки.
type Result struct {
	Sent   int
	Failed int
	// Abandoned получатели, до которых рассылка не дошла из-за отмены контекста.
	Abandoned int
}

// Dispatcher форматирует и отправляет напоминания
type Dispatcher struct {
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// New создает диспетчер. m может быть nil.
func New(notifier Notifier, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		log:      log.With(slog.String("component", "sender")),
		metrics:  m,
	}
}

// Dispatch отправляет по одному сообщению на каждое напоминание.
// Отмена ctx прекращает рассылку, оставшиеся получатели пропускаются.
func (d *Dispatcher) Dispatch(ctx context.Context, kind reminder.Kind, reminders []reminder.Reminder) Result {
	const op = "sender.Dispatch"
	log := d.log.With(slog.String("op", op), slog.String("kind", kind.Name()))

	var res Result
	for i, r := range reminders {
		if ctx.Err() != nil {
			res.Abandoned = len(reminders) - i
			log.Warn("dispatch interrupted", slog.Int("abandoned", res.Abandoned), sl.Err(ctx.Err()))
			break
		}
		if d.deliver(ctx, log, kind.Name(), r.UserID, kind.Format(r)) {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	log.Info("dispatch finished",
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("total", len(reminders)))
	return res
}

// Send отправляет одно сообщение. false, если доставка не удалась; ошибка уже залогирована.
func (d *Dispatcher) Send(ctx context.Context, recipientID int64, message string) bool {
	return d.deliver(ctx, d.log.With(slog.String("op", "sender.Send")), "direct", recipientID, message)
}

func (d *Dispatcher) deliver(ctx context.Context, log *slog.Logger, kind string, chatID int64, text string) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("notifier panicked", slog.Int64("user_id", chatID), slog.Any("panic", p))
			ok = false
		}
		d.metrics.Delivery(kind, ok)
	}()

	if err := d.notifier.Send(ctx, chatID, text); err != nil {
		log.Warn("failed to deliver reminder", slog.Int64("user_id", chatID), sl.Err(err))
		return false
	}
	log.Debug("reminder delivered", slog.Int64("user_id", chatID))
	return true
}

// ErrBadMessage возвращается HandleQueued для сообщения, которое нельзя разобрать.
var ErrBadMessage = errors.New("malformed queued message")

// HandleQueued доставляет сообщение, полученное из очереди. Ошибка означает,
// что сообщение не доставлено; повторная доставка на стороне очереди не выполняется.
func (d *Dispatcher) HandleQueued(ctx context.Context, body []byte) error {
	const op = "sender.HandleQueued"

	var msg models.OutgoingMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		d.log.Error("failed to unmarshal message body", sl.Err(err))
		return fmt.Errorf("%s: %w: %v", op, ErrBadMessage, err)
	}
	if msg.ChatID == 0 || msg.Text == "" {
		return fmt.Errorf("%s: %w: empty chat id or text", op, ErrBadMessage)
	}

	if !d.deliver(ctx, d.log.With(slog.String("op", op)), "queued", msg.ChatID, msg.Text) {
		return fmt.Errorf("%s: delivery to %d failed", op, msg.ChatID)
	}
	return nil
}
