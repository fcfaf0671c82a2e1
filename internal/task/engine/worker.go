package engine

import (
	"context"
	"math/rand"
	"runtime/debug"
	"time"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	logx "workhub/pkg/logx"
)

// slowTask promotes the completion log from debug to info.
const slowTask = 750 * time.Millisecond

func (s *Service) work(ctx context.Context, p *pool, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx)<<40))
	for {
		// Stop wins over queued work; drain handles the rest.
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case qt := <-p.queue:
			s.inFlight.Add(1)
			s.execute(ctx, p, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execute(ctx context.Context, p *pool, qt queuedTask, rng *rand.Rand) {
	start := time.Now()
	rec := Record{ID: qt.ID, Name: qt.Name, Started: start, QueueDelay: max(start.Sub(qt.at), 0)}

	if limit := s.cfg.MaxQueueDelay; limit > 0 && rec.QueueDelay > limit {
		rec.Error = "stale_queue_delay"
		s.drops.total.Add(1)
		n := s.drops.stale.Add(1)
		s.publish(eventbus.TaskDropped, rec)
		s.history.add(rec)
		if s.drops.staleWarn.allow(start) {
			s.log.Warn("task dropped: stale queue",
				logx.String("task", qt.Name),
				logx.Duration("queue_delay", rec.QueueDelay),
				logx.Uint64("dropped_stale", n),
			)
		}
		qt.complete(Result{Err: errs.New("stale queue delay"), Dropped: true})
		return
	}

	s.publish(eventbus.TaskStarted, rec)
	attempts, err := s.attempts(ctx, p, qt, rng)
	rec.Duration = time.Since(start)
	rec.Attempts = attempts

	fields := []logx.Field{
		logx.String("task", qt.Name),
		logx.String("id", qt.ID),
		logx.Duration("dur", rec.Duration),
		logx.Int("attempts", attempts),
	}
	interrupted := err != nil && (ctx.Err() != nil || p.stopped())
	switch {
	case interrupted:
		rec.Error = "interrupted: " + err.Error()
		s.log.Info("task.interrupted", append(fields, logx.Err(err))...)
		s.publish(eventbus.TaskDropped, rec)
	case err != nil:
		rec.Error = err.Error()
		s.log.Warn("task.failed", append(fields, logx.Err(err))...)
		s.publish(eventbus.TaskFailed, rec)
	case rec.Duration >= slowTask:
		s.log.Info("task.completed", fields...)
		s.publish(eventbus.TaskFinished, rec)
	default:
		s.log.Debug("task.completed", fields...)
		s.publish(eventbus.TaskFinished, rec)
	}

	if cc, ok := circuitFor(s.cfg, qt.opt); ok && !interrupted {
		s.breaker.record(time.Now(), qt.Name, cc, err != nil)
	}
	s.history.add(rec)
	qt.complete(Result{Attempts: attempts, Err: err, Interrupted: interrupted})
}

// attempts runs qt until it succeeds, returns a NoRetry error, or exhausts
// 1+RetryMax attempts.
func (s *Service) attempts(ctx context.Context, p *pool, qt queuedTask, rng *rand.Rand) (int, error) {
	limit := 1 + max(qt.opt.RetryMax, 0)
	for n := 1; ; n++ {
		err := s.attempt(ctx, qt)
		if err == nil || n == limit || IsNoRetry(err) {
			return n, err
		}

		delay := backoffDelayWithHint(qt.opt, n, err, rng)
		s.log.Debug("task retry scheduled",
			logx.String("task", qt.Name),
			logx.Int("attempt", n+1),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return n, ctx.Err()
		case <-p.stop:
			t.Stop()
			return n, ErrStopping
		}
	}
}

// attempt runs one try under the task timeout. A panic is returned as an error.
func (s *Service) attempt(ctx context.Context, qt queuedTask) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.Run(ctx)
}
