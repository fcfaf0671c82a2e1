// Package engine executes workhub jobs on a bounded worker pool with per-task
// timeouts, retry with jittered backoff, overlap gating and a consecutive
// failure circuit breaker.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	rtsup "workhub/internal/runtime/supervisor"
	logx "workhub/pkg/logx"
)

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	pool *pool

	gates sync.Map // task name -> *RunState

	breaker  breaker
	history  history
	drops    dropStats
	inFlight atomic.Int32
	seq      atomic.Uint64
}

// pool is one Start..Stop generation of workers.
type pool struct {
	queue    chan queuedTask
	stop     chan struct{}
	done     chan struct{}
	sup      *rtsup.Supervisor
	stopping bool
}

type queuedTask struct {
	Task
	at      time.Time
	opt     TaskOptions
	timeout time.Duration
	gate    *RunState // held until the task finishes; nil when overlap is allowed
}

func (qt queuedTask) complete(r Result) {
	qt.gate.release()
	if qt.Done != nil {
		qt.Done(r)
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = cfg.normalized()
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		history: history{size: cfg.HistorySize},
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start launches the workers under a supervisor that restarts any worker
// that exits. Calling it on a running engine is a no-op.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return
	}

	p := &pool{
		queue: make(chan queuedTask, s.cfg.QueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		sup: rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		),
	}
	s.pool = p

	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, p, i)
			select {
			case <-p.stop:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errs.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop cancels the workers and completes every still-queued task with
// Result{Dropped: true}. It returns when shutdown finishes or ctx ends,
// whichever comes first; shutdown itself continues in the background.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.stopping
	if first {
		p.stopping = true
		close(p.stop)
	}
	s.mu.Unlock()

	if first {
		p.sup.Cancel()
		go func() {
			_ = p.sup.Wait(context.Background())
			p.drain()
			s.mu.Lock()
			if s.pool == p {
				s.pool = nil
			}
			s.mu.Unlock()
			close(p.done)
		}()
	}

	select {
	case <-p.done:
		if first {
			s.log.Info("task engine stopped")
		}
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (p *pool) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// drain completes tasks that were queued but never picked up.
func (p *pool) drain() {
	for {
		select {
		case qt := <-p.queue:
			qt.complete(Result{Err: ErrStopped, Dropped: true})
		default:
			return
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:          s.cfg.Enabled,
		Workers:          s.cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Dropped:          s.drops.total.Load(),
		DroppedQueueFull: s.drops.queueFull.Load(),
		DroppedStale:     s.drops.stale.Load(),
		History:          s.history.list(),
	}
	if p != nil {
		snap.QueueLen, snap.QueueCap = len(p.queue), cap(p.queue)
	}
	snap.CircuitTotal, snap.CircuitOpen = s.breaker.counts(time.Now())
	return snap
}

func (s *Service) gateFor(name string) *RunState {
	if v, ok := s.gates.Load(name); ok {
		return v.(*RunState)
	}
	v, _ := s.gates.LoadOrStore(name, &RunState{})
	return v.(*RunState)
}

func (s *Service) nextID(now time.Time) string {
	return fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
}

func (s *Service) publish(typ string, rec Record) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: rec.Started, Data: rec})
}

func cleanName(name string) string { return strings.TrimSpace(name) }
