package supervisor

import (
	"context"
	"math/rand/v2"
	"time"

	"workhub/internal/errs"
	logx "workhub/pkg/logx"
)

// healthyRun resets the restart backoff.
const healthyRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minWait, maxWait time.Duration
	maxRestarts      int // 0 is unlimited
	stopOnClean      bool
	failWhenExhaust  bool
	publishFirst     bool
}

// WithRestartBackoff sets the first and the largest wait between restarts.
func WithRestartBackoff(lo, hi time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if lo > 0 {
			p.minWait = lo
		}
		if hi > 0 {
			p.maxWait = hi
		}
	}
}

// WithMaxRestarts gives up after n restarts; the first run is not counted.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// WithFatalOnFinalError fails the supervisor when restarts run out.
func WithFatalOnFinalError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.failWhenExhaust = enabled }
}

// WithPublishFirstError records the first failure in Err while restarts go on.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishFirst = enabled }
}

// WithStopOnCleanExit ends the loop when fn returns nil. Default true.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnClean = enabled }
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error { fn(ctx); return nil }, opts...)
}

// GoRestart runs fn again after an error or panic, waiting a jittered,
// doubling backoff, until the context is canceled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{minWait: 250 * time.Millisecond, maxWait: 30 * time.Second, stopOnClean: true}
	for _, o := range opts {
		o(&p)
	}
	p.maxWait = max(p.maxWait, p.minWait)
	s.spawn(func() { s.restartLoop(name, fn, p) })
}

func (s *Supervisor) restartLoop(name string, fn func(ctx context.Context) error, p restartPolicy) {
	wait := p.minWait
	for n := 0; s.ctx.Err() == nil; n++ {
		start := s.table.start(name, n > 0)
		err := s.call(name, fn)

		switch {
		case s.ctx.Err() != nil || errs.Is(err, context.Canceled):
			s.table.stop(name, start, nil)
			return
		case err == nil && p.stopOnClean:
			s.table.stop(name, start, nil)
			return
		case err == nil:
			err = errs.New("exited")
		}
		err = errs.Wrap(err, name)
		s.table.stop(name, start, err)
		if p.publishFirst {
			s.record(err)
		}

		if p.maxRestarts > 0 && n >= p.maxRestarts {
			s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", n), logx.Err(err))
			if p.failWhenExhaust {
				s.fail(err)
			}
			return
		}
		if time.Since(start) >= healthyRun {
			wait = p.minWait
		}
		pause := wait + time.Duration(rand.Int64N(int64(wait)/5+1))
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", pause), logx.Err(err))
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(pause):
		}
		wait = min(wait*2, p.maxWait)
	}
}
