package models

import "github.com/shopspring/decimal"

// DefaultCurrency валюта подписки, если она не указана.
const DefaultCurrency = "RUB"

// CurrencyOf возвращает валюту подписки с учётом значения по умолчанию.
func CurrencyOf(sub *Subscription) string {
	if sub.Currency == "" {
		return DefaultCurrency
	}
	return sub.Currency
}

// Money сумма в одной валюте.
type Money struct {
	Currency string
	Amount   decimal.Decimal
}

// CategoryTotal месячный эквивалент расходов по одной категории в одной валюте.
type CategoryTotal struct {
	Name     string
	Currency string
	Total    decimal.Decimal
}

// Summary ежемесячная сводка расходов пользователя.
// Суммы в разных валютах не складываются. Округление выполняется только при форматировании.
type Summary struct {
	MonthlyTotals []Money         // Месячный эквивалент активных подписок по валютам, валюты по алфавиту
	Active        int             // Количество активных подписок
	Paused        int             // Количество подписок на паузе
	ByCategory    []CategoryTotal // Разбивка по категориям, по убыванию суммы
	Top           []TopItem       // Самые дорогие активные подписки
}

// Total возвращает месячную сумму в валюте currency, ноль если таких подписок нет.
func (s Summary) Total(currency string) decimal.Decimal {
	for _, m := range s.MonthlyTotals {
		if m.Currency == currency {
			return m.Amount
		}
	}
	return decimal.Zero
}

// TopItem подписка из рейтинга самых дорогих вместе с её месячным эквивалентом.
type TopItem struct {
	Subscription *Subscription
	Monthly      decimal.Decimal
}
