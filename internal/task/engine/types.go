package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config is the mapped task_engine section.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	DefaultTimeout time.Duration // per attempt when Task.Timeout is 0
	MaxQueueDelay  time.Duration // tasks waiting longer are dropped; 0 keeps them

	HistorySize int
	RetryMax    int // retries after the first attempt; < 0 means none

	// Consecutive failures per task name before the circuit opens.
	// < 0 disables the breaker, 0 selects the default.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.CircuitTripFailures == 0 {
		c.CircuitTripFailures = 5
	}
	c.CircuitBaseDelay = orDefault(c.CircuitBaseDelay, 5*time.Second)
	c.CircuitMaxDelay = orDefault(c.CircuitMaxDelay, 2*time.Minute)
	c.CircuitResetAfter = orDefault(c.CircuitResetAfter, 5*time.Minute)
	return c
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

// TaskOptions tunes retries and overlap for one task. Zero fields inherit the
// engine defaults.
type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // fraction of the delay, 0.2 = ±20%

	// Overrides Config.CircuitTripFailures; < 0 exempts the task.
	CircuitTripFailures int
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	o.RetryBase = orDefault(o.RetryBase, 500*time.Millisecond)
	o.RetryMaxDelay = orDefault(o.RetryMaxDelay, 15*time.Second)
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	switch o.Overlap {
	case OverlapAllow, OverlapSkipIfRunning:
	default:
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState is the overlap gate shared by every run of one trigger. It is held
// from enqueue until the run finishes, so queued copies count as running.
// A nil RunState never blocks.
type RunState struct {
	busy atomic.Bool
}

func (s *RunState) tryAcquire() bool { return s == nil || s.busy.CompareAndSwap(false, true) }

func (s *RunState) release() {
	if s != nil {
		s.busy.Store(false)
	}
}

// Task is one unit of work.
//
// Name keys the circuit breaker and, without State, the overlap gate. Done
// runs exactly once for every accepted task and never when Enqueue fails.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
	Done    func(Result)
}

// Result is the outcome after all attempts.
type Result struct {
	Attempts int
	Err      error
	Dropped  bool // never ran: stale in the queue or the engine stopped
	// Interrupted is set when a shutdown cut the run short, during an
	// attempt or while waiting to retry. Err is the interruption.
	Interrupted bool
}

// Record describes one finished, skipped or dropped task. It is kept in the
// history ring and published as event data.
type Record struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Workers  int  `json:"workers"`
	QueueLen int  `json:"queue_len"`
	QueueCap int  `json:"queue_cap"`
	InFlight int  `json:"in_flight"`

	Dropped          uint64 `json:"dropped"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	DroppedStale     uint64 `json:"dropped_stale"`

	CircuitTotal int `json:"circuit_total"`
	CircuitOpen  int `json:"circuit_open"`

	History []Record `json:"history,omitempty"`
}
