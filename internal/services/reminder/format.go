package reminder

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maximaxme/subboy/internal/lib/billing"
	"github.com/maximaxme/subboy/internal/models"
)

const dateLayout = "02.01.2006"

var periodNames = map[models.Period]string{
	models.PeriodDaily:   "в день",
	models.PeriodWeekly:  "в неделю",
	models.PeriodMonthly: "в месяц",
	models.PeriodYearly:  "в год",
}

func money(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", billing.FormatMoney(amount), html.EscapeString(currency))
}

func price(sub *models.Subscription) string {
	return money(sub.Price, models.CurrencyOf(sub))
}

func name(sub *models.Subscription) string {
	return "<b>" + html.EscapeString(sub.Name) + "</b>"
}

// totals суммирует цены по валютам, валюты по алфавиту.
func totals(subs []*models.Subscription) string {
	sums := map[string]decimal.Decimal{}
	for _, sub := range subs {
		currency := models.CurrencyOf(sub)
		sums[currency] = sums[currency].Add(sub.Price)
	}
	currencies := make([]string, 0, len(sums))
	for c := range sums {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	parts := make([]string, 0, len(currencies))
	for _, c := range currencies {
		parts = append(parts, money(sums[c], c))
	}
	return strings.Join(parts, " + ")
}

// Format формирует текст напоминания о ближайшем списании.
func (k *DayBefore) Format(r Reminder) string {
	var b strings.Builder

	due := r.Today.AddDate(0, 0, k.DaysBefore)
	when := "Завтра"
	if k.DaysBefore != 1 {
		when = fmt.Sprintf("Через %d дн.", k.DaysBefore)
	}

	b.WriteString("🔔 <b>Напоминание о списании</b>\n\n")
	fmt.Fprintf(&b, "%s (%s) спишется:\n", when, due.Format(dateLayout))
	for _, sub := range r.Subscriptions {
		fmt.Fprintf(&b, "• %s: %s\n", name(sub), price(sub))
	}
	if len(r.Subscriptions) > 1 {
		fmt.Fprintf(&b, "\nИтого: %s", totals(r.Subscriptions))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Format формирует еженедельный дайджест.
func (k *Weekly) Format(r Reminder) string {
	var b strings.Builder

	to := r.Today.AddDate(0, 0, 7)
	fmt.Fprintf(&b, "📅 <b>Платежи на неделю</b> (%s – %s)\n\n",
		r.Today.Format("02.01"), to.Format("02.01"))
	for _, sub := range r.Subscriptions {
		fmt.Fprintf(&b, "• %s %s: %s\n", sub.NextPayment.Format("02.01"), name(sub), price(sub))
	}
	fmt.Fprintf(&b, "\nВсего %d на сумму %s", len(r.Subscriptions), totals(r.Subscriptions))
	return b.String()
}

// Format формирует ежемесячный отчёт.
func (k *Monthly) Format(r Reminder) string {
	summary := r.Summary
	if summary == nil {
		s := Summarize(r.Subscriptions, k.TopN)
		summary = &s
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Отчёт о подписках</b> на %s\n\n", r.Today.Format(dateLayout))
	monthly := make([]string, 0, len(summary.MonthlyTotals))
	for _, m := range summary.MonthlyTotals {
		monthly = append(monthly, "<b>"+money(m.Amount, m.Currency)+"</b>")
	}
	if len(monthly) == 0 {
		monthly = append(monthly, "<b>"+money(decimal.Zero, models.DefaultCurrency)+"</b>")
	}
	fmt.Fprintf(&b, "Расходы в месяц: %s\n", strings.Join(monthly, " + "))
	fmt.Fprintf(&b, "Активных: %d, на паузе: %d\n", summary.Active, summary.Paused)

	if len(summary.ByCategory) > 0 {
		b.WriteString("\n<b>По категориям:</b>\n")
		for _, c := range summary.ByCategory {
			fmt.Fprintf(&b, "• %s: %s\n", html.EscapeString(c.Name), money(c.Total, c.Currency))
		}
	}

	if len(summary.Top) > 0 {
		b.WriteString("\n<b>Самые дорогие:</b>\n")
		for i, item := range summary.Top {
			sub := item.Subscription
			line := fmt.Sprintf("%d. %s: %s", i+1, name(sub), money(item.Monthly, models.CurrencyOf(sub)))
			if sub.Period != models.PeriodMonthly {
				line += fmt.Sprintf(" (%s %s)", price(sub), periodNames[sub.Period])
			}
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
