package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximaxme/subboy/internal/lib/sl"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeLocker struct {
	mu       sync.Mutex
	allow    bool
	err      error
	locked   []string
	unlocked []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.allow {
		l.locked = append(l.locked, key)
	}
	return l.allow, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = append(l.unlocked, key)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	statuses []JobStatus
}

func (r *fakeRecorder) Record(_ context.Context, status JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

func newTestRunner(t *testing.T, clock *fakeClock, opts Options) *Runner {
	t.Helper()
	opts.Clock = clock.Now
	if opts.MisfireGrace == 0 {
		opts.MisfireGrace = 5 * time.Minute
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = time.Second
	}
	r := New(sl.Discard(), opts)
	t.Cleanup(r.Stop)
	return r
}

func status(t *testing.T, r *Runner, name string) JobStatus {
	t.Helper()
	for _, st := range r.Jobs() {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("job %q not found", name)
	return JobStatus{}
}

func waitState(t *testing.T, r *Runner, name string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return status(t, r, name).State == want
	}, 2*time.Second, 5*time.Millisecond, "job %q never reached state %s", name, want)
}

func TestRunner_Register(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 8, 0, 0)}
	r := newTestRunner(t, clock, Options{})
	noop := func(context.Context, Tick) error { return nil }

	require.NoError(t, r.Register(Job{Name: "daily", Schedule: DailyAt(9, 0), Handler: noop}))

	err := r.Register(Job{Name: "daily", Schedule: DailyAt(10, 0), Handler: noop})
	assert.ErrorIs(t, err, ErrJobExists)

	err = r.Register(Job{Name: "broken", Schedule: MonthlyOn(31, 0, 0), Handler: noop})
	assert.ErrorIs(t, err, ErrInvalidTrigger)

	err = r.Register(Job{Name: "nohandler", Schedule: DailyAt(9, 0)})
	assert.Error(t, err)

	st := status(t, r, "daily")
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, ts(2024, 6, 10, 9, 0, 0), st.NextRun)
	assert.Equal(t, "daily at 09:00 UTC", st.Schedule)
}

func TestRunner_FiresOncePerTick(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 8, 59, 0)}
	rec := &fakeRecorder{}
	r := newTestRunner(t, clock, Options{Recorder: rec})

	ticks := make(chan Tick, 10)
	require.NoError(t, r.Register(Job{
		Name:     "daily",
		Schedule: DailyAt(9, 0),
		Handler: func(_ context.Context, tick Tick) error {
			ticks <- tick
			return nil
		},
	}))

	clock.Set(ts(2024, 6, 10, 8, 59, 30))
	r.tick()
	assert.Empty(t, ticks)

	clock.Set(ts(2024, 6, 10, 9, 0, 20))
	r.tick()
	tick := <-ticks
	assert.Equal(t, ts(2024, 6, 10, 9, 0, 0), tick.Scheduled)
	assert.NotEmpty(t, tick.RunID)
	assert.False(t, tick.Manual)
	waitState(t, r, "daily", StateCompleted)

	// второй тик в ту же минуту не запускает задачу повторно
	clock.Set(ts(2024, 6, 10, 9, 0, 50))
	r.tick()
	assert.Empty(t, ticks)

	st := status(t, r, "daily")
	assert.Equal(t, StateIdle, st.State, "completed job returns to idle on the next tick")
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, ts(2024, 6, 11, 9, 0, 0), st.NextRun)
	assert.Equal(t, tick.RunID, st.LastRunID)
	require.Eventually(t, func() bool { return rec.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunner_MisfireSkipped(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 8, 0, 0)}
	r := newTestRunner(t, clock, Options{MisfireGrace: 5 * time.Minute})

	called := make(chan struct{}, 1)
	require.NoError(t, r.Register(Job{
		Name:     "daily",
		Schedule: DailyAt(9, 0),
		Handler: func(context.Context, Tick) error {
			called <- struct{}{}
			return nil
		},
	}))

	// в пределах окна задача всё ещё запускается
	clock.Set(ts(2024, 6, 10, 9, 4, 59))
	r.tick()
	<-called
	waitState(t, r, "daily", StateCompleted)

	// следующий тик опоздал больше чем на окно
	clock.Set(ts(2024, 6, 11, 9, 10, 0))
	r.tick()
	assert.Empty(t, called)

	st := status(t, r, "daily")
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skips)
	assert.Equal(t, ts(2024, 6, 12, 9, 0, 0), st.NextRun, "job is re-armed for the next occurrence")
}

func TestRunner_SkipIfRunning(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 9, 30, 0)}
	r := newTestRunner(t, clock, Options{})

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	require.NoError(t, r.Register(Job{
		Name:     "hourly",
		Schedule: Hourly(0),
		Handler: func(context.Context, Tick) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}))

	clock.Set(ts(2024, 6, 10, 10, 0, 1))
	r.tick()
	<-started
	waitState(t, r, "hourly", StateRunning)

	clock.Set(ts(2024, 6, 10, 11, 0, 1))
	r.tick()

	_, err := r.RunNow(context.Background(), "hourly")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	waitState(t, r, "hourly", StateCompleted)
	assert.Len(t, started, 0)

	st := status(t, r, "hourly")
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skips)
	assert.Equal(t, ts(2024, 6, 10, 12, 0, 0), st.NextRun)
}

func TestRunner_FailedAndPanickedJobs(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 8, 0, 0)}
	r := newTestRunner(t, clock, Options{})

	require.NoError(t, r.Register(Job{
		Name:     "failing",
		Schedule: DailyAt(9, 0),
		Handler:  func(context.Context, Tick) error { return errors.New("store unavailable") },
	}))
	require.NoError(t, r.Register(Job{
		Name:     "panicking",
		Schedule: DailyAt(9, 0),
		Handler:  func(context.Context, Tick) error { panic("nil map") },
	}))
	okRuns := make(chan struct{}, 1)
	require.NoError(t, r.Register(Job{
		Name:     "healthy",
		Schedule: DailyAt(9, 0),
		Handler: func(context.Context, Tick) error {
			okRuns <- struct{}{}
			return nil
		},
	}))

	clock.Set(ts(2024, 6, 10, 9, 0, 0))
	r.tick()

	waitState(t, r, "failing", StateFailed)
	waitState(t, r, "panicking", StateFailed)
	waitState(t, r, "healthy", StateCompleted)
	<-okRuns

	failing := status(t, r, "failing")
	assert.Equal(t, 1, failing.Failures)
	assert.Equal(t, "store unavailable", failing.LastError)
	assert.Contains(t, status(t, r, "panicking").LastError, "nil map")

	// провал не мешает следующему запуску
	clock.Set(ts(2024, 6, 11, 9, 0, 0))
	r.tick()
	waitState(t, r, "failing", StateFailed)
	require.Eventually(t, func() bool { return status(t, r, "failing").Runs == 2 }, time.Second, 5*time.Millisecond)
}

func TestRunner_RunNow(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 8, 0, 0)}
	r := newTestRunner(t, clock, Options{})

	ticks := make(chan Tick, 1)
	require.NoError(t, r.Register(Job{
		Name:     "weekly",
		Schedule: WeeklyOn(time.Monday, 10, 0),
		Handler: func(_ context.Context, tick Tick) error {
			ticks <- tick
			return nil
		},
	}))

	_, err := r.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)

	runID, err := r.RunNow(context.Background(), "weekly")
	require.NoError(t, err)

	tick := <-ticks
	assert.True(t, tick.Manual)
	assert.Equal(t, runID, tick.RunID)
	waitState(t, r, "weekly", StateCompleted)
	assert.Equal(t, ts(2024, 6, 10, 10, 0, 0), status(t, r, "weekly").NextRun, "manual run keeps the schedule")
}

func TestRunner_Locker(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 8, 0, 0)}
	locker := &fakeLocker{}
	r := newTestRunner(t, clock, Options{Locker: locker})

	calls := make(chan struct{}, 2)
	require.NoError(t, r.Register(Job{
		Name:     "daily",
		Schedule: DailyAt(9, 0),
		Handler: func(context.Context, Tick) error {
			calls <- struct{}{}
			return nil
		},
	}))

	clock.Set(ts(2024, 6, 10, 9, 0, 0))
	r.tick()
	require.Eventually(t, func() bool { return status(t, r, "daily").Skips == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, calls)
	assert.Equal(t, StateIdle, status(t, r, "daily").State)

	locker.mu.Lock()
	locker.allow = true
	locker.mu.Unlock()

	clock.Set(ts(2024, 6, 11, 9, 0, 0))
	r.tick()
	<-calls
	waitState(t, r, "daily", StateCompleted)

	require.Eventually(t, func() bool {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return len(locker.unlocked) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{lockPrefix + "daily"}, locker.locked)

	locker.mu.Lock()
	locker.err = errors.New("redis down")
	locker.mu.Unlock()

	clock.Set(ts(2024, 6, 12, 9, 0, 0))
	r.tick()
	waitState(t, r, "daily", StateFailed)
	assert.Contains(t, status(t, r, "daily").LastError, "redis down")
}

func TestRunner_StopCancelsAfterTimeout(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 8, 0, 0)}
	r := newTestRunner(t, clock, Options{ShutdownTimeout: 50 * time.Millisecond})

	started := make(chan struct{})
	cancelled := make(chan error, 1)
	require.NoError(t, r.Register(Job{
		Name:     "slow",
		Schedule: DailyAt(9, 0),
		Handler: func(ctx context.Context, _ Tick) error {
			close(started)
			<-ctx.Done()
			cancelled <- ctx.Err()
			return ctx.Err()
		},
	}))

	_, err := r.RunNow(context.Background(), "slow")
	require.NoError(t, err)
	<-started

	r.Stop()
	assert.ErrorIs(t, <-cancelled, context.Canceled)
	assert.Equal(t, StateFailed, status(t, r, "slow").State)

	_, err = r.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, r.Register(Job{Name: "late", Schedule: Hourly(0), Handler: func(context.Context, Tick) error { return nil }}), ErrStopped)
}

func TestRunner_StartStop(t *testing.T) {
	clock := &fakeClock{now: ts(2024, 6, 10, 8, 59, 59)}
	r := newTestRunner(t, clock, Options{PollInterval: 10 * time.Millisecond})

	calls := make(chan struct{}, 10)
	require.NoError(t, r.Register(Job{
		Name:     "daily",
		Schedule: DailyAt(9, 0),
		Handler: func(context.Context, Tick) error {
			calls <- struct{}{}
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Start(ctx)

	clock.Set(ts(2024, 6, 10, 9, 0, 1))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not triggered by the loop")
	}

	r.Stop()
	r.Stop()
	assert.Len(t, calls, 0, "job fired exactly once")
}
