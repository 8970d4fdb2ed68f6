// Package advancement сдвигает просроченные даты следующего списания вперёд.
//
// Для каждой подписки с next_payment < today дата увеличивается на целое число
// периодов до первой даты, не меньшей today. Новые даты считаются в памяти и
// сохраняются одной транзакцией: прогон применяется целиком или не применяется вовсе.
package advancement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/maximaxme/subboy/internal/lib/billing"
	"github.com/maximaxme/subboy/internal/lib/sl"
	"github.com/maximaxme/subboy/internal/metrics"
	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/storage"
)

// Report результат одного прогона.
type Report struct {
	// Advanced число подписок с изменённой датой.
	Advanced int
	// Skipped ID подписок, которые не удалось сдвинуть: неизвестный период
	// или превышение лимита шагов. Их даты не меняются.
	Skipped []int64
	// Users владельцы сдвинутых подписок, без повторов и по возрастанию.
	Users []int64
}

// Invalidator сбрасывает закешированные данные пользователей после записи новых дат.
type Invalidator interface {
	InvalidateUsers(ctx context.Context, userIDs []int64)
}

// Advancer движок сдвига дат
type Advancer struct {
	store       storage.Store
	log         *slog.Logger
	metrics     *metrics.Metrics
	invalidator Invalidator
	maxSteps    int
}

// New создает движок. m может быть nil.
func New(store storage.Store, log *slog.Logger, m *metrics.Metrics) *Advancer {
	return &Advancer{
		store:    store,
		log:      log.With(slog.String("component", "advancement")),
		metrics:  m,
		maxSteps: billing.MaxSteps,
	}
}

// WithInvalidator подключает сброс кеша пользователей после успешного прогона.
func (a *Advancer) WithInvalidator(inv Invalidator) *Advancer {
	a.invalidator = inv
	return a
}

// AdvanceOverdue сдвигает все подписки (активные и на паузе) с next_payment раньше today.
// Повторный вызов в тот же день ничего не меняет.
func (a *Advancer) AdvanceOverdue(ctx context.Context, today time.Time) (Report, error) {
	const op = "advancement.AdvanceOverdue"

	today = billing.Date(today)
	log := a.log.With(slog.String("op", op), slog.Time("today", today))

	var report Report
	err := a.store.RunInTx(ctx, storage.TxOptions{}, func(ctx context.Context, repo storage.Repository) error {
		subs, err := repo.ListOverdueSubscriptions(ctx, today)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			return nil
		}

		updates, skipped := a.plan(log, subs, today)
		report.Skipped = skipped
		if len(updates) == 0 {
			return nil
		}

		n, err := repo.UpdateNextPaymentDates(ctx, updates)
		if err != nil {
			return err
		}
		report.Advanced = n
		report.Users = owners(subs, updates)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("%s: %w", op, err)
	}

	if a.invalidator != nil && len(report.Users) > 0 {
		a.invalidator.InvalidateUsers(ctx, report.Users)
	}

	a.metrics.Advanced(report.Advanced, len(report.Skipped))
	log.Info("overdue subscriptions advanced",
		slog.Int("advanced", report.Advanced),
		slog.Int("skipped", len(report.Skipped)))
	return report, nil
}

// plan считает новые даты, ничего не записывая.
func (a *Advancer) plan(log *slog.Logger, subs []*models.Subscription, today time.Time) ([]models.PaymentDateUpdate, []int64) {
	updates := make([]models.PaymentDateUpdate, 0, len(subs))
	var skipped []int64

	for _, sub := range subs {
		next, steps, err := billing.Advance(sub.NextPayment, today, sub.Period, a.maxSteps)
		if err != nil {
			reason := "invalid record"
			switch {
			case errors.Is(err, billing.ErrUnknownPeriod):
				reason = "unknown period"
			case errors.Is(err, billing.ErrTooManySteps):
				reason = "too many steps"
			}
			log.Warn("subscription skipped",
				slog.Int64("subscription_id", sub.ID),
				slog.String("period", string(sub.Period)),
				slog.Time("next_payment", sub.NextPayment),
				slog.String("reason", reason),
				sl.Err(err))
			skipped = append(skipped, sub.ID)
			continue
		}
		if steps == 0 {
			continue
		}
		log.Debug("next payment moved",
			slog.Int64("subscription_id", sub.ID),
			slog.Time("from", sub.NextPayment),
			slog.Time("to", next),
			slog.Int("steps", steps))
		updates = append(updates, models.PaymentDateUpdate{ID: sub.ID, NextPayment: next})
	}
	return updates, skipped
}

// owners возвращает ID пользователей, чьи подписки попали в updates.
func owners(subs []*models.Subscription, updates []models.PaymentDateUpdate) []int64 {
	userOf := make(map[int64]int64, len(subs))
	for _, sub := range subs {
		userOf[sub.ID] = sub.UserID
	}
	users := make([]int64, 0, len(updates))
	for _, u := range updates {
		users = append(users, userOf[u.ID])
	}
	slices.Sort(users)
	return slices.Compact(users)
}
