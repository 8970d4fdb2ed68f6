package models

import "strings"

// Period период списания подписки.
type Period string

const (
	// PeriodDaily ежедневное списание.
	PeriodDaily Period = "daily"
	// PeriodWeekly еженедельное списание.
	PeriodWeekly Period = "weekly"
	// PeriodMonthly ежемесячное списание.
	PeriodMonthly Period = "monthly"
	// PeriodYearly ежегодное списание.
	PeriodYearly Period = "yearly"
)

// ParsePeriod приводит строку к Period без учёта регистра и пробелов.
// Второе значение false, если период не поддерживается.
func ParsePeriod(s string) (Period, bool) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Valid сообщает, поддерживается ли период.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodYearly:
		return true
	}
	return false
}

func (p Period) String() string {
	return string(p)
}
