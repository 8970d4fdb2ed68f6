// Package billing содержит календарную арифметику периодов списания
// и пересчёт стоимости подписок в месячный эквивалент.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maximaxme/subboy/internal/models"
)

// MaxSteps ограничивает число прибавлений периода для одной записи за один прогон.
// Десять тысяч ежедневных периодов это больше двадцати семи лет простоя.
const MaxSteps = 10000

var (
	// ErrUnknownPeriod возвращается для неподдерживаемого периода списания.
	ErrUnknownPeriod = errors.New("unknown billing period")
	// ErrTooManySteps возвращается, если дата не догоняет today за MaxSteps шагов.
	ErrTooManySteps = errors.New("too many billing periods to advance")
)

var (
	monthsPerYear = decimal.NewFromInt(12)
	weeksPerYear  = decimal.NewFromInt(52)
	daysPerYear   = decimal.NewFromInt(365)
)

// Date отбрасывает время суток и возвращает полночь того же дня по UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonths прибавляет n календарных месяцев. Если в целевом месяце нет такого числа,
// берётся последний день месяца: 31 января + 1 месяц = 29 февраля (в високосный год).
func AddMonths(t time.Time, n int) time.Time {
	t = Date(t)
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := t.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddPeriod возвращает дату следующего списания после t.
func AddPeriod(t time.Time, p models.Period) (time.Time, error) {
	switch p {
	case models.PeriodDaily:
		return Date(t).AddDate(0, 0, 1), nil
	case models.PeriodWeekly:
		return Date(t).AddDate(0, 0, 7), nil
	case models.PeriodMonthly:
		return AddMonths(t, 1), nil
	case models.PeriodYearly:
		return AddMonths(t, 12), nil
	}
	return t, fmt.Errorf("%w: %q", ErrUnknownPeriod, string(p))
}

// Advance сдвигает next на целое число периодов, пока дата не станет >= today.
// Каждый шаг считается от результата предыдущего. Возвращает новую дату и число шагов;
// дата, равная today или позже, возвращается без изменений.
func Advance(next, today time.Time, p models.Period, maxSteps int) (time.Time, int, error) {
	const op = "billing.Advance"

	next, today = Date(next), Date(today)
	if !p.Valid() {
		return next, 0, fmt.Errorf("%s: %w: %q", op, ErrUnknownPeriod, string(p))
	}

	steps := 0
	for next.Before(today) {
		if steps >= maxSteps {
			return next, steps, fmt.Errorf("%s: %w (%d)", op, ErrTooManySteps, maxSteps)
		}
		var err error
		next, err = AddPeriod(next, p)
		if err != nil {
			return next, steps, fmt.Errorf("%s: %w", op, err)
		}
		steps++
	}
	return next, steps, nil
}

// MonthlyEquivalent пересчитывает стоимость одного периода в месячный эквивалент.
// Недели и дни приводятся через год: weekly*52/12, daily*365/12.
// Годовая подписка 1200.00 даёт ровно 100.
func MonthlyEquivalent(amount decimal.Decimal, p models.Period) (decimal.Decimal, error) {
	switch p {
	case models.PeriodMonthly:
		return amount, nil
	case models.PeriodYearly:
		return amount.Div(monthsPerYear), nil
	case models.PeriodWeekly:
		return amount.Mul(weeksPerYear).Div(monthsPerYear), nil
	case models.PeriodDaily:
		return amount.Mul(daysPerYear).Div(monthsPerYear), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownPeriod, string(p))
}

// FormatMoney округляет сумму до копеек только для отображения.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
