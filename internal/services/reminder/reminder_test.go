package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximaxme/subboy/internal/config"
	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/storage/storagetest"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type subRow struct {
	user   int64
	name   string
	price  string
	period models.Period
	next   time.Time
	active bool
	cat    *int64
}

func seed(store *storagetest.Store, rows ...subRow) {
	for _, s := range rows {
		store.AddSubscription(models.Subscription{
			UserID:      s.user,
			CategoryID:  s.cat,
			Name:        s.name,
			Price:       dec(s.price),
			Period:      s.period,
			NextPayment: s.next,
			IsActive:    s.active,
		})
	}
}

func settings(userID int64, dayBefore, weekly, monthly bool, hour int) models.NotificationSettings {
	return models.NotificationSettings{UserID: userID, DayBefore: dayBefore, Weekly: weekly, Monthly: monthly, NotifyHour: hour}
}

func names(r Reminder) []string {
	out := make([]string, 0, len(r.Subscriptions))
	for _, s := range r.Subscriptions {
		out = append(out, s.Name)
	}
	return out
}

func users(rs []Reminder) []int64 {
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.UserID)
	}
	return out
}

func intPtr(v int) *int { return &v }

func TestDayBefore_Select(t *testing.T) {
	today := date(2024, 6, 10)

	store := storagetest.New()
	store.SetSettings(settings(1, true, false, false, 9))
	store.SetSettings(settings(2, false, true, true, 9))
	// у пользователя 3 нет строки настроек: day_before включён по умолчанию
	seed(store,
		subRow{1, "Netflix", "799.00", models.PeriodMonthly, date(2024, 6, 11), true, nil},
		subRow{1, "Spotify", "299.00", models.PeriodMonthly, date(2024, 6, 12), true, nil},
		subRow{1, "Paused", "100.00", models.PeriodMonthly, date(2024, 6, 11), false, nil},
		subRow{2, "Disabled", "100.00", models.PeriodMonthly, date(2024, 6, 11), true, nil},
		subRow{3, "Yandex Plus", "399.00", models.PeriodMonthly, date(2024, 6, 11), true, nil},
	)

	kind := NewDayBefore(1, 9)
	got, err := Collect(context.Background(), store, kind, Params{Today: today})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, []int64{1, 3}, users(got))
	assert.Equal(t, []string{"Netflix"}, names(got[0]))
	assert.Equal(t, []string{"Yandex Plus"}, names(got[1]))
	assert.Equal(t, KindDayBefore, got[0].Kind)
	assert.Equal(t, today, got[0].Today)
	assert.Equal(t, 1, store.ReadOnlyTx)
}

func TestDayBefore_Consolidation(t *testing.T) {
	store := storagetest.New()
	seed(store,
		subRow{1, "YouTube", "299.00", models.PeriodMonthly, date(2024, 6, 11), true, nil},
		subRow{1, "Apple", "149.00", models.PeriodMonthly, date(2024, 6, 11), true, nil},
		subRow{1, "Kinopoisk", "199.00", models.PeriodMonthly, date(2024, 6, 11), true, nil},
	)

	kind := NewDayBefore(1, 9)
	got, err := Collect(context.Background(), store, kind, Params{Today: date(2024, 6, 10)})
	require.NoError(t, err)

	require.Len(t, got, 1, "one message per user")
	assert.Equal(t, []string{"Apple", "Kinopoisk", "YouTube"}, names(got[0]))

	text := kind.Format(got[0])
	assert.Contains(t, text, "Завтра (11.06.2024)")
	assert.Contains(t, text, "<b>Apple</b>: 149.00 RUB")
	assert.Contains(t, text, "Итого: 647.00 RUB")
}

func TestDayBefore_DaysBeforeAndHour(t *testing.T) {
	store := storagetest.New()
	store.SetSettings(settings(1, true, false, false, 9))
	store.SetSettings(settings(2, true, false, false, 18))
	seed(store,
		subRow{1, "A", "10.00", models.PeriodMonthly, date(2024, 6, 13), true, nil},
		subRow{2, "B", "10.00", models.PeriodMonthly, date(2024, 6, 13), true, nil},
		subRow{3, "C", "10.00", models.PeriodMonthly, date(2024, 6, 13), true, nil},
	)
	kind := NewDayBefore(3, 9)

	tests := []struct {
		name  string
		hour  *int
		users []int64
	}{
		{"all hours", nil, []int64{1, 2, 3}},
		{"hour 9 includes default", intPtr(9), []int64{1, 3}},
		{"hour 18", intPtr(18), []int64{2}},
		{"nobody at 5", intPtr(5), []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Collect(context.Background(), store, kind,
				Params{Today: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC), Hour: tt.hour})
			require.NoError(t, err)
			assert.Equal(t, tt.users, users(got))
		})
	}

	got, err := Collect(context.Background(), store, kind, Params{Today: date(2024, 6, 10)})
	require.NoError(t, err)
	assert.Contains(t, kind.Format(got[0]), "Через 3 дн. (13.06.2024)")
}

func TestWeekly_Select(t *testing.T) {
	store := storagetest.New()
	store.SetSettings(settings(1, false, true, false, 9))
	store.SetSettings(settings(2, true, false, false, 9))
	seed(store,
		subRow{1, "Yesterday", "1.00", models.PeriodMonthly, date(2024, 6, 9), true, nil},
		subRow{1, "Today", "1.00", models.PeriodMonthly, date(2024, 6, 10), true, nil},
		subRow{1, "Week end", "2.50", models.PeriodMonthly, date(2024, 6, 17), true, nil},
		subRow{1, "Too late", "1.00", models.PeriodMonthly, date(2024, 6, 18), true, nil},
		subRow{1, "Paused", "1.00", models.PeriodMonthly, date(2024, 6, 12), false, nil},
		subRow{2, "Off", "1.00", models.PeriodMonthly, date(2024, 6, 12), true, nil},
		// weekly по умолчанию выключен
		subRow{3, "Default off", "1.00", models.PeriodMonthly, date(2024, 6, 12), true, nil},
	)

	kind := NewWeekly(9)
	got, err := Collect(context.Background(), store, kind, Params{Today: date(2024, 6, 10)})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].UserID)
	assert.Equal(t, []string{"Today", "Week end"}, names(got[0]))

	text := kind.Format(got[0])
	assert.Contains(t, text, "(10.06 – 17.06)")
	assert.Contains(t, text, "17.06 <b>Week end</b>: 2.50 RUB")
	assert.Contains(t, text, "Всего 2 на сумму 3.50 RUB")
}

func TestMonthly_Select(t *testing.T) {
	store := storagetest.New()
	store.SetSettings(settings(1, true, false, true, 9))
	store.SetSettings(settings(2, true, false, true, 9))
	store.SetSettings(settings(3, true, false, false, 9))

	video := store.AddCategory(1, "Видео")
	seed(store,
		subRow{1, "Netflix", "800.00", models.PeriodMonthly, date(2024, 6, 20), true, &video},
		subRow{1, "Domain", "1200.00", models.PeriodYearly, date(2025, 1, 1), true, nil},
		subRow{1, "Gym", "100.00", models.PeriodWeekly, date(2024, 6, 12), false, nil},
		subRow{3, "Hidden", "1.00", models.PeriodMonthly, date(2024, 6, 20), true, nil},
	)

	kind := NewMonthly(3, 9)
	got, err := Collect(context.Background(), store, kind, Params{Today: date(2024, 7, 1)})
	require.NoError(t, err)

	require.Len(t, got, 1, "users without subscriptions get no summary")
	r := got[0]
	assert.Equal(t, int64(1), r.UserID)
	assert.Len(t, r.Subscriptions, 3, "paused subscriptions are included")
	require.NotNil(t, r.Summary)

	assert.True(t, dec("900").Equal(r.Summary.Total("RUB")), r.Summary.Total("RUB").String())
	assert.Equal(t, 2, r.Summary.Active)
	assert.Equal(t, 1, r.Summary.Paused)

	text := kind.Format(r)
	assert.Contains(t, text, "Расходы в месяц: <b>900.00 RUB</b>")
	assert.Contains(t, text, "Активных: 2, на паузе: 1")
	assert.Contains(t, text, "• Видео: 800.00 RUB")
	assert.Contains(t, text, "• Без категории: 100.00 RUB")
	assert.Contains(t, text, "1. <b>Netflix</b>: 800.00 RUB")
	assert.Contains(t, text, "2. <b>Domain</b>: 100.00 RUB (1200.00 RUB в год)")
}

func TestSummarize(t *testing.T) {
	cat := int64(7)
	subs := []*models.Subscription{
		{Name: "Yearly", Price: dec("1200.00"), Period: models.PeriodYearly, IsActive: true},
		{Name: "Weekly", Price: dec("100.00"), Period: models.PeriodWeekly, IsActive: true, CategoryID: &cat, CategoryName: "Спорт"},
		{Name: "Daily", Price: dec("12.00"), Period: models.PeriodDaily, IsActive: true, CategoryID: &cat, CategoryName: "Спорт"},
		{Name: "Broken", Price: dec("50.00"), Period: models.Period("quarterly"), IsActive: true},
		{Name: "Paused", Price: dec("999.00"), Period: models.PeriodMonthly, IsActive: false},
	}

	s := Summarize(subs, 2)

	assert.Equal(t, 4, s.Active)
	assert.Equal(t, 1, s.Paused)
	// 100 + 433.333... + 365
	require.Len(t, s.MonthlyTotals, 1)
	assert.Equal(t, "RUB", s.MonthlyTotals[0].Currency)
	assert.Equal(t, "898.33", s.Total("RUB").StringFixed(2))

	require.Len(t, s.ByCategory, 2)
	assert.Equal(t, "Спорт", s.ByCategory[0].Name)
	assert.Equal(t, "798.33", s.ByCategory[0].Total.StringFixed(2))
	assert.Equal(t, NoCategory, s.ByCategory[1].Name)
	assert.True(t, dec("100").Equal(s.ByCategory[1].Total))

	require.Len(t, s.Top, 2)
	assert.Equal(t, "Weekly", s.Top[0].Subscription.Name)
	assert.Equal(t, "Daily", s.Top[1].Subscription.Name)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, 3)
	assert.Empty(t, s.MonthlyTotals)
	assert.True(t, s.Total("RUB").IsZero())
	assert.Empty(t, s.ByCategory)
	assert.Empty(t, s.Top)
}

func TestSummarize_CurrenciesAreNotMixed(t *testing.T) {
	cat := int64(3)
	subs := []*models.Subscription{
		{Name: "Netflix", Price: dec("15.49"), Currency: "USD", Period: models.PeriodMonthly, IsActive: true, CategoryID: &cat, CategoryName: "Видео"},
		{Name: "Kinopoisk", Price: dec("299.00"), Currency: "RUB", Period: models.PeriodMonthly, IsActive: true, CategoryID: &cat, CategoryName: "Видео"},
		{Name: "Hosting", Price: dec("120.00"), Currency: "USD", Period: models.PeriodYearly, IsActive: true},
	}

	s := Summarize(subs, 3)

	require.Len(t, s.MonthlyTotals, 2)
	assert.Equal(t, "RUB", s.MonthlyTotals[0].Currency)
	assert.Equal(t, "299.00", s.MonthlyTotals[0].Amount.StringFixed(2))
	assert.Equal(t, "USD", s.MonthlyTotals[1].Currency)
	assert.Equal(t, "25.49", s.MonthlyTotals[1].Amount.StringFixed(2))

	require.Len(t, s.ByCategory, 3, "one category in two currencies gives two rows")
	assert.Equal(t, "Видео", s.ByCategory[0].Name)
	assert.Equal(t, "RUB", s.ByCategory[0].Currency)
	assert.Equal(t, "Видео", s.ByCategory[1].Name)
	assert.Equal(t, "USD", s.ByCategory[1].Currency)
	assert.Equal(t, NoCategory, s.ByCategory[2].Name)

	text := NewMonthly(3, 9).Format(Reminder{UserID: 1, Today: date(2024, 7, 1), Subscriptions: subs})
	assert.Contains(t, text, "Расходы в месяц: <b>299.00 RUB</b> + <b>25.49 USD</b>")
	assert.Contains(t, text, "• Видео: 15.49 USD")
	assert.Contains(t, text, "<b>Hosting</b>: 10.00 USD (120.00 USD в год)")
}

func TestCollect_StoreError(t *testing.T) {
	store := storagetest.New()
	store.FailOn("ListSubscriptionsBySetting", errors.New("db is down"))

	_, err := Collect(context.Background(), store, NewWeekly(9), Params{Today: date(2024, 6, 10)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekly")
	assert.Contains(t, err.Error(), "db is down")
}

func TestByName(t *testing.T) {
	cfg := config.Scheduler{DaysBefore: 2, TopN: 5, DefaultNotifyHour: 10}

	k, err := ByName("day_before", cfg)
	require.NoError(t, err)
	assert.Equal(t, &DayBefore{DaysBefore: 2, DefaultHour: 10}, k)

	k, err = ByName("weekly", cfg)
	require.NoError(t, err)
	assert.Equal(t, KindWeekly, k.Name())

	k, err = ByName("monthly", cfg)
	require.NoError(t, err)
	assert.Equal(t, &Monthly{TopN: 5, DefaultHour: 10}, k)

	_, err = ByName("yearly", cfg)
	assert.Error(t, err)
}

func TestFormat_EscapesHTML(t *testing.T) {
	kind := NewDayBefore(1, 9)
	text := kind.Format(Reminder{
		UserID: 1,
		Today:  date(2024, 6, 10),
		Subscriptions: []*models.Subscription{
			{Name: "<Tom & Jerry>", Price: dec("5"), Currency: "USD", Period: models.PeriodMonthly},
		},
	})
	assert.Contains(t, text, "<b>&lt;Tom &amp; Jerry&gt;</b>: 5.00 USD")
	assert.NotContains(t, text, "Итого")
}
