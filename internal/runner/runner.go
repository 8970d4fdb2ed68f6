// Package runner запускает периодические задачи по расписанию в UTC.
//
// Каждая задача проходит состояния Idle → Triggered → Running → Completed|Failed
// и возвращается в Idle на следующем тике. Задача запускается не чаще одного раза
// на запланированный момент; тик, опоздавший больше чем на MisfireGrace, пропускается.
// Пока предыдущий запуск задачи не завершён, новый не начинается.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maximaxme/subboy/internal/lib/sl"
	"github.com/maximaxme/subboy/internal/metrics"
)

var (
	// ErrJobExists возвращается при повторной регистрации задачи с тем же именем.
	ErrJobExists = errors.New("job already registered")
	// ErrInvalidTrigger возвращается для некорректного расписания.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrUnknownJob возвращается для незарегистрированной задачи.
	ErrUnknownJob = errors.New("unknown job")
	// ErrAlreadyRunning возвращается RunNow, если задача уже выполняется.
	ErrAlreadyRunning = errors.New("job is already running")
	// ErrStopped возвращается после вызова Stop.
	ErrStopped = errors.New("runner is stopped")
)

const lockPrefix = "subboy:lock:job:"

// State состояние задачи.
type State string

// Состояния задачи.
const (
	StateIdle      State = "idle"
	StateTriggered State = "triggered"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Tick описывает один запуск задачи.
type Tick struct {
	Scheduled time.Time // запланированный момент (для ручного запуска это момент вызова)
	RunID     string
	Manual    bool
}

// Handler тело задачи. ctx отменяется по JobTimeout или при остановке раннера.
type Handler func(ctx context.Context, tick Tick) error

// Job описывает одну планируемую задачу
type Job struct {
	Name        string
	Description string
	Schedule    Schedule
	Handler     Handler
}

// JobStatus снапшот состояния задачи
type JobStatus struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Schedule     string        `json:"schedule"`
	State        State         `json:"state"`
	NextRun      time.Time     `json:"next_run"`
	LastRun      time.Time     `json:"last_run"`
	LastRunID    string        `json:"last_run_id,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	Skips        int           `json:"skips"`
}

// Locker распределённая блокировка, чтобы несколько процессов не запускали одну задачу.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Recorder сохраняет статус задачи после каждого запуска.
type Recorder interface {
	Record(ctx context.Context, status JobStatus) error
}

// Options параметры раннера. Нулевые значения заменяются значениями по умолчанию.
type Options struct {
	PollInterval    time.Duration
	MisfireGrace    time.Duration
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration
	Clock           func() time.Time
	Locker          Locker
	LockTTL         time.Duration
	Recorder        Recorder
	Metrics         *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.MisfireGrace <= 0 {
		o.MisfireGrace = 5 * time.Minute
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 5 * time.Minute
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type entry struct {
	job          Job
	state        State
	running      bool
	nextRun      time.Time
	lastRun      time.Time
	lastRunID    string
	lastDuration time.Duration
	lastErr      error
	runs         int
	failures     int
	skips        int
}

func (e *entry) status() JobStatus {
	st := JobStatus{
		Name:         e.job.Name,
		Description:  e.job.Description,
		Schedule:     e.job.Schedule.String(),
		State:        e.state,
		NextRun:      e.nextRun,
		LastRun:      e.lastRun,
		LastRunID:    e.lastRunID,
		LastDuration: e.lastDuration,
		Runs:         e.runs,
		Failures:     e.failures,
		Skips:        e.skips,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// Runner управляет задачами приложения
type Runner struct {
	log  *slog.Logger
	opts Options

	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	started bool
	stopped bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	stopCh    chan struct{}
	loopDone  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New создает новый раннер. Задачи регистрируются через Register до или после Start.
func New(log *slog.Logger, opts Options) *Runner {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Runner{
		log:       log.With(slog.String("component", "runner")),
		opts:      opts.withDefaults(),
		jobs:      make(map[string]*entry),
		runCtx:    runCtx,
		cancelRun: cancel,
		stopCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

func (r *Runner) now() time.Time {
	return r.opts.Clock().UTC()
}

// Register добавляет задачу. Ошибка расписания возвращается сразу, до первого тика.
func (r *Runner) Register(job Job) error {
	const op = "runner.Register"

	if job.Name == "" {
		return fmt.Errorf("%s: empty job name", op)
	}
	if job.Handler == nil {
		return fmt.Errorf("%s: %s: nil handler", op, job.Name)
	}
	if err := job.Schedule.Validate(); err != nil {
		return fmt.Errorf("%s: %s: %w", op, job.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return fmt.Errorf("%s: %w", op, ErrStopped)
	}
	if _, ok := r.jobs[job.Name]; ok {
		return fmt.Errorf("%s: %s: %w", op, job.Name, ErrJobExists)
	}

	e := &entry{
		job:     job,
		state:   StateIdle,
		nextRun: job.Schedule.Next(r.now()),
	}
	r.jobs[job.Name] = e
	r.order = append(r.order, job.Name)

	r.log.Info("job registered",
		slog.String("job", job.Name),
		slog.String("schedule", job.Schedule.String()),
		slog.Time("next_run", e.nextRun))
	return nil
}

// Start запускает цикл раннера в фоновой горутине. Отмена ctx прекращает новые запуски;
// для ожидания выполняющихся задач нужно вызвать Stop.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	n := len(r.jobs)
	r.mu.Unlock()

	go r.loop(ctx)
	r.log.Info("runner started", slog.Int("jobs", n), slog.Duration("poll_interval", r.opts.PollInterval))
}

// Stop прекращает новые запуски и ждёт выполняющиеся задачи. Если они не завершились
// за ShutdownTimeout, их контексты отменяются. Повторный вызов ничего не делает.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		started := r.started
		r.mu.Unlock()

		close(r.stopCh)
		if started {
			<-r.loopDone
		}

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(r.opts.ShutdownTimeout):
			r.log.Warn("shutdown timeout exceeded, cancelling running jobs",
				slog.Duration("timeout", r.opts.ShutdownTimeout))
			r.cancelRun()
			<-done
		}
		r.cancelRun()
		r.log.Info("runner stopped")
	})
}

// Jobs возвращает статус всех задач в порядке регистрации
func (r *Runner) Jobs() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]JobStatus, 0, len(r.order))
	for _, name := range r.order {
		statuses = append(statuses, r.jobs[name].status())
	}
	return statuses
}

// RunNow запускает задачу вне расписания и возвращает идентификатор запуска.
// Расписание задачи не сдвигается.
func (r *Runner) RunNow(ctx context.Context, name string) (string, error) {
	const op = "runner.RunNow"
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return "", fmt.Errorf("%s: %w", op, ErrStopped)
	}
	e, ok := r.jobs[name]
	if !ok {
		return "", fmt.Errorf("%s: %s: %w", op, name, ErrUnknownJob)
	}
	if e.running {
		return "", fmt.Errorf("%s: %s: %w", op, name, ErrAlreadyRunning)
	}

	tick := Tick{Scheduled: r.now(), RunID: uuid.NewString(), Manual: true}
	r.launch(e, tick)
	return tick.RunID, nil
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.loopDone)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	// Первая проверка сразу при старте
	r.tick()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-ctx.Done():
			r.log.Info("runner context cancelled, no new triggers")
			return
		case <-r.stopCh:
			return
		}
	}
}

// tick проверяет все задачи и запускает те, у которых наступило время
func (r *Runner) tick() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	for _, name := range r.order {
		e := r.jobs[name]
		if !e.running && (e.state == StateCompleted || e.state == StateFailed) {
			e.state = StateIdle
		}
		if now.Before(e.nextRun) {
			continue
		}

		scheduled := e.nextRun
		e.nextRun = e.job.Schedule.Next(now)
		log := r.log.With(slog.String("job", name), slog.Time("scheduled", scheduled))

		if late := now.Sub(scheduled); late > r.opts.MisfireGrace {
			e.skips++
			r.opts.Metrics.JobSkipped(name, "misfire")
			log.Warn("tick missed, waiting for the next one",
				slog.Duration("late", late),
				slog.Duration("grace", r.opts.MisfireGrace),
				slog.Time("next_run", e.nextRun))
			continue
		}
		if e.running {
			e.skips++
			r.opts.Metrics.JobSkipped(name, "running")
			log.Warn("previous run still in progress, tick skipped", slog.Time("next_run", e.nextRun))
			continue
		}

		r.launch(e, Tick{Scheduled: scheduled, RunID: uuid.NewString()})
	}
}

// launch вызывается под r.mu.
func (r *Runner) launch(e *entry, tick Tick) {
	e.running = true
	e.state = StateTriggered
	r.wg.Add(1)
	go r.execute(e, tick)
}

// execute выполняет одну задачу и обновляет её состояние
func (r *Runner) execute(e *entry, tick Tick) {
	defer r.wg.Done()

	name := e.job.Name
	log := r.log.With(slog.String("job", name), slog.String("run_id", tick.RunID))

	ctx, cancel := context.WithTimeout(r.runCtx, r.opts.JobTimeout)
	defer cancel()

	if r.opts.Locker != nil {
		key := lockPrefix + name
		ok, err := r.opts.Locker.TryLock(ctx, key, r.opts.LockTTL)
		if err != nil {
			r.finish(log, e, tick, r.now(), 0, fmt.Errorf("runner.execute: lock: %w", err))
			return
		}
		if !ok {
			r.release(e)
			log.Info("job is locked by another instance, tick skipped")
			return
		}
		defer func() {
			uctx, ucancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer ucancel()
			if err := r.opts.Locker.Unlock(uctx, key); err != nil {
				log.Warn("failed to release job lock", sl.Err(err))
			}
		}()
	}

	r.mu.Lock()
	e.state = StateRunning
	r.mu.Unlock()

	log.Info("job started", slog.Time("scheduled", tick.Scheduled), slog.Bool("manual", tick.Manual))
	started := r.now()
	begin := time.Now()

	err := call(ctx, e.job.Handler, tick)

	r.finish(log, e, tick, started, time.Since(begin), err)
}

func call(ctx context.Context, h Handler, tick Tick) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return h(ctx, tick)
}

// release возвращает задачу в Idle, если запуск не состоялся из-за блокировки.
func (r *Runner) release(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.running = false
	e.state = StateIdle
	e.skips++
	r.opts.Metrics.JobSkipped(e.job.Name, "locked")
}

func (r *Runner) finish(log *slog.Logger, e *entry, tick Tick, started time.Time, elapsed time.Duration, err error) {
	r.mu.Lock()
	e.running = false
	e.lastRun = started
	e.lastRunID = tick.RunID
	e.lastDuration = elapsed
	e.lastErr = err
	e.runs++
	if err != nil {
		e.failures++
		e.state = StateFailed
	} else {
		e.state = StateCompleted
	}
	status := e.status()
	r.mu.Unlock()

	r.opts.Metrics.JobFinished(e.job.Name, elapsed, err)
	if err != nil {
		log.Error("job failed", slog.Duration("elapsed", elapsed), sl.Err(err))
	} else {
		log.Info("job completed", slog.Duration("elapsed", elapsed), slog.Time("next_run", status.NextRun))
	}

	if r.opts.Recorder != nil {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.opts.Recorder.Record(rctx, status); err != nil {
			log.Warn("failed to record job status", sl.Err(err))
		}
	}
}
