// Package reminder отбирает получателей напоминаний и форматирует сообщения.
//
// Каждый вид напоминания реализует Kind: Select только читает данные и не имеет
// побочных эффектов, Format превращает одно напоминание в текст сообщения (HTML Telegram).
// Один пользователь получает не больше одного напоминания каждого вида за прогон.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/maximaxme/subboy/internal/config"
	"github.com/maximaxme/subboy/internal/lib/billing"
	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/storage"
)

// Названия видов напоминаний. Совпадают с флагами настроек.
const (
	KindDayBefore = string(models.SettingDayBefore)
	KindWeekly    = string(models.SettingWeekly)
	KindMonthly   = string(models.SettingMonthly)
)

// Params параметры одного прогона отбора.
type Params struct {
	// Today текущая дата UTC; время суток отбрасывается.
	Today time.Time
	// Hour: если не nil, только пользователи с таким notify_hour (почасовой режим).
	Hour *int
}

// Reminder одно сообщение для одного пользователя.
type Reminder struct {
	UserID int64
	Kind   string
	Today  time.Time
	// Subscriptions подписки пользователя, попавшие в выборку,
	// по возрастанию next_payment, затем name.
	Subscriptions []*models.Subscription
	// Summary заполняется только для ежемесячного отчёта.
	Summary *models.Summary
}

// Kind стратегия одного вида напоминания.
type Kind interface {
	Name() string
	Select(ctx context.Context, repo storage.Repository, p Params) ([]Reminder, error)
	Format(r Reminder) string
}

// Collect открывает транзакцию только для чтения и отбирает напоминания вида kind.
func Collect(ctx context.Context, store storage.Store, kind Kind, p Params) ([]Reminder, error) {
	const op = "reminder.Collect"

	var out []Reminder
	err := store.RunInTx(ctx, storage.TxOptions{ReadOnly: true}, func(ctx context.Context, repo storage.Repository) error {
		var err error
		out, err = kind.Select(ctx, repo, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, kind.Name(), err)
	}
	return out, nil
}

// ByName возвращает вид напоминания с параметрами из конфига.
func ByName(name string, cfg config.Scheduler) (Kind, error) {
	switch name {
	case KindDayBefore:
		return NewDayBefore(cfg.DaysBefore, cfg.DefaultNotifyHour), nil
	case KindWeekly:
		return NewWeekly(cfg.DefaultNotifyHour), nil
	case KindMonthly:
		return NewMonthly(cfg.TopN, cfg.DefaultNotifyHour), nil
	}
	return nil, fmt.Errorf("reminder.ByName: unknown kind %q", name)
}

// selectGrouped выполняет выборку и группирует подписки по пользователям.
// Порядок подписок внутри группы сохраняется.
func selectGrouped(ctx context.Context, repo storage.Repository, kind string,
	filter storage.SubscriptionFilter, today time.Time) ([]Reminder, error) {
	subs, err := repo.ListSubscriptionsBySetting(ctx, filter)
	if err != nil {
		return nil, err
	}

	var out []Reminder
	for _, sub := range subs {
		if n := len(out); n > 0 && out[n-1].UserID == sub.UserID {
			out[n-1].Subscriptions = append(out[n-1].Subscriptions, sub)
			continue
		}
		out = append(out, Reminder{
			UserID:        sub.UserID,
			Kind:          kind,
			Today:         today,
			Subscriptions: []*models.Subscription{sub},
		})
	}
	return out, nil
}

func normalize(p Params) Params {
	p.Today = billing.Date(p.Today)
	return p
}
