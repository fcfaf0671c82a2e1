package jobqueue

import (
	"context"
	"sync"
	"time"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	"workhub/internal/storage"
	"workhub/internal/task/engine"
	logx "workhub/pkg/logx"
)

// Handler executes one envelope. Returning an error lets the task engine retry.
type Handler func(ctx context.Context, env Envelope) error

// Submitter runs tasks on the worker pool. *engine.Service implements it.
type Submitter interface {
	Enqueue(t engine.Task) error
}

// ConsumerConfig controls how due jobs move from the queue onto the engine.
type ConsumerConfig struct {
	PollInterval time.Duration
	// Lease is how long a claimed job stays invisible. It must exceed the
	// slowest handler including engine retries, or the job runs twice.
	Lease time.Duration
	Batch int
	// MaxClaims dead-letters a job that keeps getting claimed without an
	// outcome, e.g. because the process handling it crashes every time.
	MaxClaims int
	Timeout   time.Duration
	Retry     engine.TaskOptions
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.Batch <= 0 {
		c.Batch = 16
	}
	if c.MaxClaims <= 0 {
		c.MaxClaims = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	return c
}

// Consumer claims due envelopes and runs their handlers on the task engine.
//
// Outcome handling:
//   - success: Ack
//   - retries exhausted: record as dead job, Ack, publish job.dead
//   - rejected or dropped unrun by the engine (queue full, circuit open,
//     shutdown): Release, so the claim does not count toward MaxClaims
//   - interrupted by shutdown after running: Nack
type Consumer struct {
	q     Queue
	eng   Submitter
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus

	mu       sync.RWMutex
	cfg      ConsumerConfig
	handlers map[Kind]Handler

	now func() time.Time
}

func NewConsumer(cfg ConsumerConfig, q Queue, eng Submitter, store storage.Store, log logx.Logger, bus eventbus.Bus) *Consumer {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Consumer{
		q:        q,
		eng:      eng,
		store:    store,
		log:      log.With(logx.String("comp", "jobqueue")),
		bus:      bus,
		cfg:      cfg.withDefaults(),
		handlers: map[Kind]Handler{},
		now:      time.Now,
	}
}

// Handle registers h for kind, replacing any previous handler.
func (c *Consumer) Handle(kind Kind, h Handler) {
	c.mu.Lock()
	c.handlers[kind] = h
	c.mu.Unlock()
}

// Apply swaps the config for subsequent polls.
func (c *Consumer) Apply(cfg ConsumerConfig) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}

func (c *Consumer) config() ConsumerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Consumer) handler(kind Kind) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[kind]
}

// Run polls until ctx is done. Queue errors are logged and retried on the
// next tick so a Redis outage does not stop the process.
func (c *Consumer) Run(ctx context.Context) error {
	cfg := c.config()
	c.log.Info("job consumer started", logx.Duration("poll", cfg.PollInterval), logx.Duration("lease", cfg.Lease))
	t := time.NewTicker(cfg.PollInterval)
	defer t.Stop()

	var lastErr time.Time
	for {
		if _, err := c.PollOnce(ctx); err != nil && ctx.Err() == nil {
			if now := c.now(); now.Sub(lastErr) > 30*time.Second {
				lastErr = now
				c.log.Warn("job poll failed", logx.Err(err))
			}
		}
		select {
		case <-ctx.Done():
			c.log.Info("job consumer stopped")
			return nil
		case <-t.C:
		}
		if p := c.config().PollInterval; p != cfg.PollInterval {
			cfg.PollInterval = p
			t.Reset(p)
		}
	}
}

// PollOnce reaps expired leases, claims due jobs and submits them. It returns
// how many jobs were submitted.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	cfg := c.config()
	now := c.now()

	if n, err := c.q.Reap(ctx, now); err != nil {
		return 0, err
	} else if n > 0 {
		c.log.Warn("job leases expired; requeued", logx.Int("jobs", n))
	}

	envs, err := c.q.Claim(ctx, now, cfg.Lease, cfg.Batch)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, env := range envs {
		if c.submit(ctx, cfg, env) {
			submitted++
		}
	}
	return submitted, nil
}

func (c *Consumer) submit(ctx context.Context, cfg ConsumerConfig, env Envelope) bool {
	log := c.log.With(logx.String("kind", string(env.Kind)), logx.String("key", env.Key), logx.String("job_id", env.ID))

	h := c.handler(env.Kind)
	if h == nil {
		c.deadLetter(ctx, env, errs.Newf("no handler for job kind %q", env.Kind))
		return false
	}
	if env.Attempts > cfg.MaxClaims {
		c.deadLetter(ctx, env, errs.Newf("claimed %d times without an outcome", env.Attempts))
		return false
	}

	err := c.eng.Enqueue(engine.Task{
		Name:    string(env.Kind),
		Timeout: cfg.Timeout,
		Opt:     cfg.Retry,
		Run:     func(ctx context.Context) error { return h(ctx, env) },
		Done:    func(r engine.Result) { c.finish(env, r) },
	})
	if err != nil {
		// Not accepted: Done will not run, so give the job back ourselves.
		delay := cfg.PollInterval
		if errs.Is(err, engine.ErrCircuitOpen) {
			delay = max(delay, 30*time.Second)
		}
		log.Debug("job not accepted by engine; requeued", logx.Err(err), logx.Duration("delay", delay))
		if rerr := c.q.Release(ctx, env, c.now().Add(delay)); rerr != nil {
			log.Warn("job release failed", logx.Err(rerr))
		}
		return false
	}
	return true
}

func (c *Consumer) finish(env Envelope, r engine.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	retryAt := c.now().Add(c.config().PollInterval)
	switch {
	case r.Dropped:
		if err := c.q.Release(ctx, env, retryAt); err != nil {
			c.log.Warn("job release failed", logx.String("kind", string(env.Kind)), logx.String("key", env.Key), logx.Err(err))
		}
	case r.Interrupted:
		c.log.Info("job interrupted by shutdown; requeued", logx.String("kind", string(env.Kind)), logx.String("key", env.Key), logx.Err(r.Err))
		if err := c.q.Nack(ctx, env, retryAt); err != nil {
			c.log.Warn("job nack failed", logx.String("kind", string(env.Kind)), logx.String("key", env.Key), logx.Err(err))
		}
	case r.Err != nil:
		c.deadLetter(ctx, env, r.Err)
	default:
		if err := c.q.Ack(ctx, env); err != nil {
			// The lease will expire and the job runs again; handlers are idempotent.
			c.log.Warn("job ack failed", logx.String("kind", string(env.Kind)), logx.String("key", env.Key), logx.Err(err))
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, env Envelope, cause error) {
	c.log.Error("job failed permanently",
		logx.String("kind", string(env.Kind)),
		logx.String("key", env.Key),
		logx.String("job_id", env.ID),
		logx.Int("claims", env.Attempts),
		logx.Err(cause),
	)
	if c.store != nil {
		err := c.store.RecordDeadJob(ctx, storage.DeadJob{
			At:       c.now(),
			ID:       env.ID,
			Kind:     string(env.Kind),
			Key:      env.Key,
			Attempts: env.Attempts,
			Error:    cause.Error(),
			Payload:  env.Payload,
		})
		if err != nil {
			c.log.Warn("dead job record failed", logx.Err(err))
		}
	}
	if err := c.q.Ack(ctx, env); err != nil {
		c.log.Warn("dead job ack failed", logx.Err(err))
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.JobDead, Data: eventbus.JobEvent{
		Kind: string(env.Kind), Key: env.Key, DueAt: env.DueAt, Err: cause.Error(),
	}})
}
