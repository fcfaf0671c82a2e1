package engine

import (
	"time"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	logx "workhub/pkg/logx"
)

// Enqueue admits t without blocking. A task is refused when the engine is
// not running, its circuit is open, an overlapping run holds its gate, or the
// queue is full. Done is only called for admitted tasks.
func (s *Service) Enqueue(t Task) error {
	t.Name = cleanName(t.Name)
	switch {
	case t.Run == nil:
		return errs.New("task Run is nil")
	case t.Name == "":
		return errs.New("task Name is required")
	case !s.cfg.Enabled:
		return ErrDisabled
	}

	now := time.Now()
	if cleanName(t.ID) == "" {
		t.ID = s.nextID(now)
	}
	rec := Record{ID: t.ID, Name: t.Name, Started: now}

	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()
	if p == nil {
		return ErrStopped
	}
	select {
	case <-p.stop:
		return ErrStopping
	default:
	}

	opt := t.Opt.resolve(s.cfg)
	cc, guarded := circuitFor(s.cfg, opt)
	if guarded {
		if until, open := s.breaker.openUntil(now, t.Name, cc); open {
			rec.Error = "circuit_open"
			s.publish(eventbus.TaskSkipped, rec)
			s.history.add(rec)
			s.log.Debug("task skipped: circuit open", logx.String("task", t.Name), logx.Time("until", until))
			return ErrCircuitOpen
		}
	}

	qt := queuedTask{Task: t, at: now, opt: opt, timeout: t.Timeout}
	if qt.timeout <= 0 {
		qt.timeout = s.cfg.DefaultTimeout
	}
	if opt.Overlap == OverlapSkipIfRunning {
		gate := t.State
		if gate == nil {
			gate = s.gateFor(t.Name)
		}
		if !gate.tryAcquire() {
			rec.Error = "overlap_skip"
			s.publish(eventbus.TaskSkipped, rec)
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
			return ErrOverlapSkip
		}
		qt.gate = gate
	}

	select {
	case p.queue <- qt:
		return nil
	default:
	}
	qt.gate.release()
	s.drops.total.Add(1)
	n := s.drops.queueFull.Add(1)
	rec.Error = "queue_full"
	s.publish(eventbus.TaskDropped, rec)
	if s.drops.queueFullWarn.allow(now) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", cap(p.queue)),
			logx.Uint64("dropped_queue_full", n),
		)
	}
	return ErrQueueFull
}
