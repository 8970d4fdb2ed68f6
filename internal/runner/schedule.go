package runner

import (
	"fmt"
	"time"
)

type scheduleKind int

const (
	kindDaily   scheduleKind = iota + 1 // раз в сутки в HH:MM UTC
	kindWeekly                          // раз в неделю в заданный день
	kindMonthly                         // раз в месяц в заданное число
	kindHourly                          // каждый час в MM минут
)

// Schedule определяет расписание задачи. Все времена в UTC.
type Schedule struct {
	kind    scheduleKind
	weekday time.Weekday
	day     int
	hour    int
	minute  int
}

// DailyAt создает расписание "каждый день в HH:MM UTC"
func DailyAt(hour, minute int) Schedule {
	return Schedule{kind: kindDaily, hour: hour, minute: minute}
}

// WeeklyOn создает расписание "каждую неделю в weekday HH:MM UTC"
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return Schedule{kind: kindWeekly, weekday: weekday, hour: hour, minute: minute}
}

// MonthlyOn создает расписание "каждый месяц day числа в HH:MM UTC".
// day ограничен 1..28, чтобы дата существовала в любом месяце.
func MonthlyOn(day, hour, minute int) Schedule {
	return Schedule{kind: kindMonthly, day: day, hour: hour, minute: minute}
}

// Hourly создает расписание "каждый час в MM минут"
func Hourly(minute int) Schedule {
	return Schedule{kind: kindHourly, minute: minute}
}

// Validate проверяет параметры расписания.
func (s Schedule) Validate() error {
	if s.minute < 0 || s.minute > 59 {
		return fmt.Errorf("%w: minute %d", ErrInvalidTrigger, s.minute)
	}
	switch s.kind {
	case kindHourly:
		return nil
	case kindDaily, kindWeekly, kindMonthly:
	default:
		return fmt.Errorf("%w: empty schedule", ErrInvalidTrigger)
	}
	if s.hour < 0 || s.hour > 23 {
		return fmt.Errorf("%w: hour %d", ErrInvalidTrigger, s.hour)
	}
	if s.kind == kindWeekly && (s.weekday < time.Sunday || s.weekday > time.Saturday) {
		return fmt.Errorf("%w: weekday %d", ErrInvalidTrigger, s.weekday)
	}
	if s.kind == kindMonthly && (s.day < 1 || s.day > 28) {
		return fmt.Errorf("%w: day of month %d", ErrInvalidTrigger, s.day)
	}
	return nil
}

// Next возвращает ближайший момент срабатывания строго после t.
func (s Schedule) Next(t time.Time) time.Time {
	t = t.UTC()
	switch s.kind {
	case kindHourly:
		next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), s.minute, 0, 0, time.UTC)
		if !next.After(t) {
			next = next.Add(time.Hour)
		}
		return next
	case kindDaily:
		next := time.Date(t.Year(), t.Month(), t.Day(), s.hour, s.minute, 0, 0, time.UTC)
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case kindWeekly:
		shift := (int(s.weekday) - int(t.Weekday()) + 7) % 7
		next := time.Date(t.Year(), t.Month(), t.Day()+shift, s.hour, s.minute, 0, 0, time.UTC)
		if !next.After(t) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	case kindMonthly:
		next := time.Date(t.Year(), t.Month(), s.day, s.hour, s.minute, 0, 0, time.UTC)
		if !next.After(t) {
			next = time.Date(t.Year(), t.Month()+1, s.day, s.hour, s.minute, 0, 0, time.UTC)
		}
		return next
	}
	return t.Add(24 * time.Hour)
}

func (s Schedule) String() string {
	switch s.kind {
	case kindHourly:
		return fmt.Sprintf("hourly at :%02d", s.minute)
	case kindDaily:
		return fmt.Sprintf("daily at %02d:%02d UTC", s.hour, s.minute)
	case kindWeekly:
		return fmt.Sprintf("weekly on %s at %02d:%02d UTC", s.weekday, s.hour, s.minute)
	case kindMonthly:
		return fmt.Sprintf("monthly on day %d at %02d:%02d UTC", s.day, s.hour, s.minute)
	}
	return "invalid"
}
