package reminder

import (
	"context"
	"strings"
	"sync"
	"time"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	"workhub/internal/jobqueue"
	logx "workhub/pkg/logx"
)

// Cron registers recurring triggers. *scheduler.Service implements it.
type Cron interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error
	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) error
}

// Scheduler owns every reminder job in the queue.
type Scheduler struct {
	q   jobqueue.Queue
	log logx.Logger
	bus eventbus.Bus

	mu  sync.RWMutex
	cfg Config

	now func() time.Time
}

func NewScheduler(cfg Config, q jobqueue.Queue, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Scheduler{
		q:   q,
		log: log.With(logx.String("comp", "reminder")),
		bus: bus,
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// Apply swaps the config. Recurring cadences only change on restart.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Scheduler) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ScheduleDeadlineReminder queues the reminder for taskID, superseding any
// pending one. A deadline already past (or inside the lead time) fires now.
func (s *Scheduler) ScheduleDeadlineReminder(ctx context.Context, taskID, title, projectName string, deadline time.Time) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return errs.Scheduling(errs.New("task id required"), "schedule deadline reminder")
	}
	if deadline.IsZero() {
		return errs.Scheduling(errs.New("deadline required"), "schedule deadline reminder")
	}

	now := s.now()
	dueAt := deadline.Add(-s.config().LeadTime)
	if dueAt.Before(now) {
		dueAt = now
	}

	env, err := jobqueue.NewEnvelope(jobqueue.KindDeadlineReminder, taskID, dueAt, DeadlinePayload{
		TaskID:      taskID,
		TaskTitle:   title,
		ProjectName: projectName,
		Deadline:    deadline,
	})
	if err != nil {
		return errs.Scheduling(err, "build deadline reminder")
	}
	if err := s.q.Upsert(ctx, env); err != nil {
		return errs.Scheduling(err, "schedule deadline reminder")
	}

	s.log.Info("deadline reminder scheduled",
		logx.String("task", taskID),
		logx.Time("due_at", dueAt),
		logx.Time("deadline", deadline),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.JobScheduled, Data: eventbus.JobEvent{
		Kind: string(jobqueue.KindDeadlineReminder), Key: taskID, DueAt: dueAt,
	}})
	return nil
}

// CancelDeadlineReminder removes the pending reminder for taskID. A missing
// job is not an error. A reminder that is already executing finishes; its
// acknowledgement then finds nothing to delete.
func (s *Scheduler) CancelDeadlineReminder(ctx context.Context, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil
	}
	removed, err := s.q.Remove(ctx, jobqueue.KindDeadlineReminder, taskID)
	if err != nil {
		return errs.Scheduling(err, "cancel deadline reminder")
	}
	if removed {
		s.log.Info("deadline reminder cancelled", logx.String("task", taskID))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobCancelled, Data: eventbus.JobEvent{
			Kind: string(jobqueue.KindDeadlineReminder), Key: taskID,
		}})
	}
	return nil
}

// PendingDeadlineReminder returns the queued reminder for taskID, if any.
func (s *Scheduler) PendingDeadlineReminder(ctx context.Context, taskID string) (DeadlinePayload, time.Time, bool, error) {
	env, ok, err := s.q.Get(ctx, jobqueue.KindDeadlineReminder, taskID)
	if err != nil || !ok {
		return DeadlinePayload{}, time.Time{}, false, err
	}
	var p DeadlinePayload
	if err := env.Decode(&p); err != nil {
		return DeadlinePayload{}, time.Time{}, false, err
	}
	return p, env.DueAt, true, nil
}

// TriggerScan queues a reminder scan due now. hours <= 0 uses the configured lookahead.
func (s *Scheduler) TriggerScan(ctx context.Context, hours int) error {
	return s.trigger(ctx, jobqueue.KindReminderScan, scanKey, ScanPayload{ReminderHours: max(hours, 0)})
}

// TriggerDigest queues a daily digest due now.
func (s *Scheduler) TriggerDigest(ctx context.Context) error {
	return s.trigger(ctx, jobqueue.KindDailyDigest, digestKey, nil)
}

func (s *Scheduler) trigger(ctx context.Context, kind jobqueue.Kind, key string, payload any) error {
	env, err := jobqueue.NewEnvelope(kind, key, s.now(), payload)
	if err != nil {
		return errs.Scheduling(err, "build "+string(kind))
	}
	if err := s.q.Upsert(ctx, env); err != nil {
		return errs.Scheduling(err, "trigger "+string(kind))
	}
	s.log.Debug("recurring job triggered", logx.String("kind", string(kind)))
	return nil
}

// RegisterRecurring installs the scan and digest triggers. Call once at start.
func (s *Scheduler) RegisterRecurring(c Cron) error {
	cfg := s.config()
	if err := c.AddSchedule(scanKey, cfg.ScanSchedule, 10*time.Second, func(ctx context.Context) error {
		return s.TriggerScan(ctx, 0)
	}); err != nil {
		return errs.Wrap(err, "register reminder scan")
	}
	if err := c.AddDaily(digestKey, cfg.DigestAt, 10*time.Second, s.TriggerDigest); err != nil {
		return errs.Wrap(err, "register daily digest")
	}
	s.log.Info("recurring reminders registered",
		logx.String("scan", cfg.ScanSchedule),
		logx.String("digest_at", cfg.DigestAt),
		logx.String("tz", cfg.Location.String()),
	)
	return nil
}
