package reminder

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/maximaxme/subboy/internal/lib/billing"
	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/storage"
)

// DayBefore напоминание о списании через DaysBefore дней.
type DayBefore struct {
	DaysBefore  int
	DefaultHour int
}

// NewDayBefore создаёт напоминание "за daysBefore дней до списания".
func NewDayBefore(daysBefore, defaultHour int) *DayBefore {
	return &DayBefore{DaysBefore: daysBefore, DefaultHour: defaultHour}
}

// Name возвращает название вида.
func (k *DayBefore) Name() string { return KindDayBefore }

// Select отбирает активные подписки с next_payment == today + DaysBefore
// у пользователей с включённым day_before.
func (k *DayBefore) Select(ctx context.Context, repo storage.Repository, p Params) ([]Reminder, error) {
	p = normalize(p)
	due := p.Today.AddDate(0, 0, k.DaysBefore)
	return selectGrouped(ctx, repo, KindDayBefore, storage.SubscriptionFilter{
		Setting:     models.SettingDayBefore,
		Hour:        p.Hour,
		DefaultHour: k.DefaultHour,
		From:        due,
		To:          due,
		ActiveOnly:  true,
	}, p.Today)
}

// Weekly еженедельный дайджест платежей на ближайшие семь дней.
type Weekly struct {
	DefaultHour int
}

// NewWeekly создаёт еженедельный дайджест.
func NewWeekly(defaultHour int) *Weekly {
	return &Weekly{DefaultHour: defaultHour}
}

// Name возвращает название вида.
func (k *Weekly) Name() string { return KindWeekly }

// Select отбирает активные подписки с next_payment в [today, today+7] включительно.
func (k *Weekly) Select(ctx context.Context, repo storage.Repository, p Params) ([]Reminder, error) {
	p = normalize(p)
	return selectGrouped(ctx, repo, KindWeekly, storage.SubscriptionFilter{
		Setting:     models.SettingWeekly,
		Hour:        p.Hour,
		DefaultHour: k.DefaultHour,
		From:        p.Today,
		To:          p.Today.AddDate(0, 0, 7),
		ActiveOnly:  true,
	}, p.Today)
}

// Monthly ежемесячный отчёт о расходах.
type Monthly struct {
	TopN        int
	DefaultHour int
}

// NewMonthly создаёт ежемесячный отчёт с рейтингом из topN подписок.
func NewMonthly(topN, defaultHour int) *Monthly {
	return &Monthly{TopN: topN, DefaultHour: defaultHour}
}

// Name возвращает название вида.
func (k *Monthly) Name() string { return KindMonthly }

// Select отбирает все подписки (и на паузе) пользователей с включённым monthly
// и считает по ним сводку. Пользователи без подписок отчёт не получают.
func (k *Monthly) Select(ctx context.Context, repo storage.Repository, p Params) ([]Reminder, error) {
	p = normalize(p)
	reminders, err := selectGrouped(ctx, repo, KindMonthly, storage.SubscriptionFilter{
		Setting:     models.SettingMonthly,
		Hour:        p.Hour,
		DefaultHour: k.DefaultHour,
	}, p.Today)
	if err != nil {
		return nil, err
	}
	for i := range reminders {
		summary := Summarize(reminders[i].Subscriptions, k.TopN)
		reminders[i].Summary = &summary
	}
	return reminders, nil
}

// NoCategory название группы для подписок без категории.
const NoCategory = "Без категории"

// Summarize считает месячный эквивалент активных подписок по валютам, разбивку по категориям
// и topN самых дорогих активных подписок. Подписки с неизвестным периодом в суммы не входят.
// Суммы разных валют не складываются; рейтинг сравнивает месячные эквиваленты без конвертации.
func Summarize(subs []*models.Subscription, topN int) models.Summary {
	var summary models.Summary
	byCurrency := map[string]decimal.Decimal{}
	type categoryKey struct{ name, currency string }
	byCategory := map[categoryKey]decimal.Decimal{}

	for _, sub := range subs {
		if !sub.IsActive {
			summary.Paused++
			continue
		}
		summary.Active++

		monthly, err := billing.MonthlyEquivalent(sub.Price, sub.Period)
		if err != nil {
			continue
		}
		currency := models.CurrencyOf(sub)
		byCurrency[currency] = byCurrency[currency].Add(monthly)

		name := sub.CategoryName
		if sub.CategoryID == nil || name == "" {
			name = NoCategory
		}
		key := categoryKey{name: name, currency: currency}
		byCategory[key] = byCategory[key].Add(monthly)

		summary.Top = append(summary.Top, models.TopItem{Subscription: sub, Monthly: monthly})
	}

	for currency, amount := range byCurrency {
		summary.MonthlyTotals = append(summary.MonthlyTotals, models.Money{Currency: currency, Amount: amount})
	}
	sort.Slice(summary.MonthlyTotals, func(i, j int) bool {
		return summary.MonthlyTotals[i].Currency < summary.MonthlyTotals[j].Currency
	})

	for key, total := range byCategory {
		summary.ByCategory = append(summary.ByCategory, models.CategoryTotal{Name: key.name, Currency: key.currency, Total: total})
	}
	sort.Slice(summary.ByCategory, func(i, j int) bool {
		a, b := summary.ByCategory[i], summary.ByCategory[j]
		if c := a.Total.Cmp(b.Total); c != 0 {
			return c > 0
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Currency < b.Currency
	})

	sort.SliceStable(summary.Top, func(i, j int) bool {
		a, b := summary.Top[i], summary.Top[j]
		if c := a.Monthly.Cmp(b.Monthly); c != 0 {
			return c > 0
		}
		return a.Subscription.Name < b.Subscription.Name
	})
	if topN >= 0 && len(summary.Top) > topN {
		summary.Top = summary.Top[:topN]
	}
	return summary
}
