package engine

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workhub/internal/errs"
	logx "workhub/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func fastRetry() TaskOptions {
	return TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond, Overlap: OverlapAllow}
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("task did not finish")
		return Result{}
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 3, CircuitTripFailures: -1})
	var calls atomic.Int32
	done := make(chan Result, 1)
	require.NoError(t, s.Enqueue(Task{
		Name: "deadline_reminder",
		Opt:  fastRetry(),
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errs.New("telegram down")
			}
			return nil
		},
		Done: func(r Result) { done <- r },
	}))

	r := waitResult(t, done)
	require.NoError(t, r.Err)
	assert.Equal(t, 3, r.Attempts)
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 5, CircuitTripFailures: -1})
	permanent := errs.New("bad payload")
	done := make(chan Result, 1)
	require.NoError(t, s.Enqueue(Task{
		Name: "daily_digest",
		Opt:  fastRetry(),
		Run:  func(ctx context.Context) error { return NoRetry(permanent) },
		Done: func(r Result) { done <- r },
	}))

	r := waitResult(t, done)
	assert.Equal(t, 1, r.Attempts)
	assert.True(t, errs.Is(r.Err, permanent))
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: -1, CircuitTripFailures: -1})
	done := make(chan Result, 1)
	require.NoError(t, s.Enqueue(Task{
		Name: "reminder_scan",
		Run:  func(ctx context.Context) error { panic("nil map") },
		Done: func(r Result) { done <- r },
	}))

	r := waitResult(t, done)
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "nil map")
	assert.Equal(t, 1, r.Attempts)
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: -1, CircuitTripFailures: 2, CircuitBaseDelay: time.Minute})
	fail := func(ctx context.Context) error { return errs.New("down") }
	for i := 0; i < 2; i++ {
		done := make(chan Result, 1)
		require.NoError(t, s.Enqueue(Task{Name: "deadline_reminder", Run: fail, Done: func(r Result) { done <- r }}))
		waitResult(t, done)
	}

	err := s.Enqueue(Task{Name: "deadline_reminder", Run: fail})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// Other task names are unaffected.
	assert.NoError(t, s.Enqueue(Task{Name: "daily_digest", Run: func(ctx context.Context) error { return nil }}))

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.CircuitOpen)
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 2, CircuitTripFailures: -1})
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{
		Name: "reminder_scan",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))
	<-started

	err := s.Enqueue(Task{Name: "reminder_scan", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrOverlapSkip)
	close(release)
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrDisabled)

	s := startEngine(t, Config{})
	assert.Error(t, s.Enqueue(Task{Name: "x"}))
	assert.Error(t, s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}))
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(opt, 1, nil))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(opt, 3, nil))
	assert.Equal(t, time.Second, backoffDelay(opt, 10, nil))

	hinted := RetryAfter(errs.New("429"), 5*time.Second)
	assert.Equal(t, time.Second, backoffDelayWithHint(opt, 1, hinted, nil))

	opt.RetryJitter = 0.2
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		d := backoffDelay(opt, 2, rng)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}

func TestHistoryRingKeepsNewest(t *testing.T) {
	t.Parallel()

	h := history{size: 3}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		h.add(Record{ID: id})
	}
	got := h.list()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "d", "e"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestStopDropsQueuedTasks(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4, CircuitTripFailures: -1}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{
		Name: "reminder_scan",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	<-started

	dropped := make(chan Result, 1)
	require.NoError(t, s.Enqueue(Task{
		Name: "daily_digest",
		Run:  func(context.Context) error { return nil },
		Done: func(r Result) { dropped <- r },
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	r := waitResult(t, dropped)
	assert.True(t, r.Dropped)
	assert.ErrorIs(t, r.Err, ErrStopped)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
}

func TestStopInterruptsRetryWait(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Workers: 1, RetryMax: 3, CircuitTripFailures: 1}, logx.Nop(), nil)
	s.Start(context.Background())

	ran := make(chan struct{}, 1)
	done := make(chan Result, 1)
	require.NoError(t, s.Enqueue(Task{
		Name: "deadline_reminder",
		Opt:  TaskOptions{RetryBase: 10 * time.Second, RetryMaxDelay: 10 * time.Second},
		Run: func(context.Context) error {
			ran <- struct{}{}
			return errs.New("telegram down")
		},
		Done: func(r Result) { done <- r },
	}))
	<-ran

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	r := waitResult(t, done)
	assert.True(t, r.Interrupted)
	assert.False(t, r.Dropped)
	assert.Equal(t, 1, r.Attempts)
	assert.True(t, errs.Is(r.Err, ErrStopping) || errs.Is(r.Err, context.Canceled), "err = %v", r.Err)

	// An interrupted run is not a failure for the breaker.
	_, open := s.breaker.counts(time.Now())
	assert.Equal(t, 0, open)
}
