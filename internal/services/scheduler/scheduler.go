// Package scheduler описывает задачи планировщика: ежедневный сдвиг дат с напоминанием
// о ближайших списаниях, еженедельный дайджест и ежемесячный отчёт.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maximaxme/subboy/internal/config"
	"github.com/maximaxme/subboy/internal/lib/billing"
	"github.com/maximaxme/subboy/internal/runner"
	"github.com/maximaxme/subboy/internal/services/advancement"
	"github.com/maximaxme/subboy/internal/services/reminder"
	"github.com/maximaxme/subboy/internal/services/sender"
	"github.com/maximaxme/subboy/internal/storage"
)

// Имена задач.
const (
	JobDaily   = "daily"
	JobWeekly  = "weekly"
	JobMonthly = "monthly"
)

// Advancer сдвигает просроченные даты.
type Advancer interface {
	AdvanceOverdue(ctx context.Context, today time.Time) (advancement.Report, error)
}

// Dispatcher отправляет напоминания.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind reminder.Kind, reminders []reminder.Reminder) sender.Result
}

// SchedulerService связывает движки с раннером
type SchedulerService struct {
	store      storage.Store
	advancer   Advancer
	dispatcher Dispatcher
	cfg        config.Scheduler
	log        *slog.Logger

	dayBefore *reminder.DayBefore
	weekly    *reminder.Weekly
	monthly   *reminder.Monthly
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(store storage.Store, advancer Advancer, dispatcher Dispatcher,
	cfg config.Scheduler, log *slog.Logger) *SchedulerService {
	return &SchedulerService{
		store:      store,
		advancer:   advancer,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.With(slog.String("component", "scheduler")),
		dayBefore:  reminder.NewDayBefore(cfg.DaysBefore, cfg.DefaultNotifyHour),
		weekly:     reminder.NewWeekly(cfg.DefaultNotifyHour),
		monthly:    reminder.NewMonthly(cfg.TopN, cfg.DefaultNotifyHour),
	}
}

func (s *SchedulerService) hourly() bool {
	return s.cfg.Mode == config.ModeHourly
}

// Jobs возвращает задачи с расписанием из конфига.
// В почасовом режиме все задачи срабатывают каждый час в hourly_minute.
func (s *SchedulerService) Jobs() []runner.Job {
	daily := runner.DailyAt(s.cfg.Daily.Hour, s.cfg.Daily.Minute)
	weekly := runner.WeeklyOn(s.cfg.Weekly.Day(), s.cfg.Weekly.Hour, s.cfg.Weekly.Minute)
	monthly := runner.MonthlyOn(s.cfg.Monthly.Day, s.cfg.Monthly.Hour, s.cfg.Monthly.Minute)
	if s.hourly() {
		daily = runner.Hourly(s.cfg.HourlyMinute)
		weekly = daily
		monthly = daily
	}

	return []runner.Job{
		{
			Name:        JobDaily,
			Description: "advance overdue payment dates, then send day-before reminders",
			Schedule:    daily,
			Handler:     s.Daily,
		},
		{
			Name:        JobWeekly,
			Description: "weekly digest of payments for the next seven days",
			Schedule:    weekly,
			Handler:     s.Weekly,
		},
		{
			Name:        JobMonthly,
			Description: "monthly spending summary",
			Schedule:    monthly,
			Handler:     s.Monthly,
		},
	}
}

// params строит параметры отбора по тику. В почасовом режиме
// отбираются только пользователи с notify_hour, равным часу тика.
func (s *SchedulerService) params(tick runner.Tick) reminder.Params {
	p := reminder.Params{Today: billing.Date(tick.Scheduled)}
	if s.hourly() {
		hour := tick.Scheduled.UTC().Hour()
		p.Hour = &hour
	}
	return p
}

// Daily сдвигает просроченные даты и фиксирует их до начала отбора
// напоминаний за day_before дней. Ошибка сдвига прерывает задачу.
func (s *SchedulerService) Daily(ctx context.Context, tick runner.Tick) error {
	const op = "scheduler.Daily"
	p := s.params(tick)

	report, err := s.advancer.AdvanceOverdue(ctx, p.Today)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("daily advancement done",
		slog.String("run_id", tick.RunID),
		slog.Int("advanced", report.Advanced),
		slog.Int("skipped", len(report.Skipped)))

	if _, err := s.Remind(ctx, s.dayBefore, p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Weekly отправляет еженедельный дайджест. В почасовом режиме плановый тик
// срабатывает только в день недели из конфига.
func (s *SchedulerService) Weekly(ctx context.Context, tick runner.Tick) error {
	const op = "scheduler.Weekly"
	p := s.params(tick)

	if s.hourly() && !tick.Manual && p.Today.Weekday() != s.cfg.Weekly.Day() {
		return nil
	}
	if _, err := s.Remind(ctx, s.weekly, p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Monthly отправляет ежемесячный отчёт. В почасовом режиме плановый тик
// срабатывает только в число месяца из конфига.
func (s *SchedulerService) Monthly(ctx context.Context, tick runner.Tick) error {
	const op = "scheduler.Monthly"
	p := s.params(tick)

	if s.hourly() && !tick.Manual && p.Today.Day() != s.cfg.Monthly.Day {
		return nil
	}
	if _, err := s.Remind(ctx, s.monthly, p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remind отбирает напоминания вида kind в транзакции только для чтения и рассылает их.
// Ошибки доставки отдельным получателям не считаются ошибкой задачи.
func (s *SchedulerService) Remind(ctx context.Context, kind reminder.Kind, p reminder.Params) (sender.Result, error) {
	const op = "scheduler.Remind"

	reminders, err := reminder.Collect(ctx, s.store, kind, p)
	if err != nil {
		return sender.Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(reminders) == 0 {
		s.log.Info("no reminders to send", slog.String("kind", kind.Name()), slog.Time("today", p.Today))
		return sender.Result{}, nil
	}
	return s.dispatcher.Dispatch(ctx, kind, reminders), nil
}

// Kind возвращает вид напоминания по имени с параметрами этого сервиса.
func (s *SchedulerService) Kind(name string) (reminder.Kind, error) {
	return reminder.ByName(name, s.cfg)
}
