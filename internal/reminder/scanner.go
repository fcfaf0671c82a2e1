package reminder

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"workhub/internal/errs"
	"workhub/internal/jobqueue"
	logx "workhub/pkg/logx"
)

// Scanner finds tasks whose deadline falls inside the lookahead window and
// fans them out to project members.
type Scanner struct {
	reg    TaskRegistry
	notify Notifier
	log    logx.Logger

	mu  sync.RWMutex
	cfg Config

	now func() time.Time
}

func NewScanner(cfg Config, reg TaskRegistry, notify Notifier, log logx.Logger) *Scanner {
	return &Scanner{
		reg:    reg,
		notify: notify,
		log:    log.With(logx.String("comp", "reminder.scan")),
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (s *Scanner) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Scanner) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Scan returns one record per (task, member) for tasks with
// now <= deadline <= now+hours. hours <= 0 uses the configured lookahead.
func (s *Scanner) Scan(ctx context.Context, hours int) ([]Record, error) {
	recs, _, err := s.scan(ctx, hours)
	return recs, err
}

func (s *Scanner) scan(ctx context.Context, hours int) ([]Record, []Task, error) {
	if hours <= 0 {
		hours = s.config().ReminderHours
	}
	now := s.now()
	threshold := now.Add(time.Duration(hours) * time.Hour)

	tasks, err := s.reg.TasksDueWithin(ctx, now, threshold)
	if err != nil {
		return nil, nil, errs.Wrap(err, "query tasks due soon")
	}
	if len(tasks) == 0 {
		return nil, nil, nil
	}

	members, err := s.membersByProject(ctx, tasks)
	if err != nil {
		return nil, nil, err
	}

	var out []Record
	for _, t := range tasks {
		left := int(t.Deadline.Sub(now) / time.Hour)
		for _, m := range members[t.ProjectID] {
			out = append(out, Record{
				TaskID:             t.ID,
				TaskTitle:          t.Title,
				ProjectID:          t.ProjectID,
				ProjectName:        t.ProjectName,
				Deadline:           t.Deadline,
				HoursUntilDeadline: left,
				Recipient:          m,
			})
		}
	}
	return out, tasks, nil
}

// membersByProject loads each distinct project's members concurrently.
func (s *Scanner) membersByProject(ctx context.Context, tasks []Task) (map[string][]Member, error) {
	var (
		mu  sync.Mutex
		out = make(map[string][]Member)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	seen := make(map[string]bool)
	for _, t := range tasks {
		if seen[t.ProjectID] {
			continue
		}
		seen[t.ProjectID] = true
		projectID := t.ProjectID
		g.Go(func() error {
			ms, err := s.reg.ProjectMembers(gctx, projectID)
			if err != nil {
				return errs.Wrapf(err, "query members of project %s", projectID)
			}
			mu.Lock()
			out[projectID] = ms
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Handle runs a reminder_scan job.
func (s *Scanner) Handle(ctx context.Context, env jobqueue.Envelope) error {
	var p ScanPayload
	if err := env.Decode(&p); err != nil {
		s.log.Warn("scan payload ignored", logx.Err(err))
	}
	cfg := s.config()
	hours := p.ReminderHours
	if hours <= 0 {
		hours = cfg.ReminderHours
	}

	recs, tasks, err := s.scan(ctx, hours)
	if err != nil {
		return err
	}
	for _, r := range recs {
		s.log.Info("deadline approaching",
			logx.String("task", r.TaskID),
			logx.String("title", r.TaskTitle),
			logx.String("project", r.ProjectName),
			logx.String("user", r.Recipient.Email),
			logx.Int("hours_left", r.HoursUntilDeadline),
			logx.Time("deadline", r.Deadline),
		)
	}
	s.log.Info("reminder scan completed",
		logx.Int("reminder_hours", hours),
		logx.Int("tasks", len(tasks)),
		logx.Int("records", len(recs)),
	)

	if cfg.ScanDelivery != DeliveryNotify || s.notify == nil {
		return nil
	}
	perTask := make(map[string]int, len(tasks))
	for _, r := range recs {
		perTask[r.TaskID]++
	}
	now := s.now()
	for _, t := range tasks {
		if perTask[t.ID] == 0 {
			continue
		}
		text := FormatScanNotice(t, int(t.Deadline.Sub(now)/time.Hour), perTask[t.ID], cfg.Location)
		if err := s.notify.Broadcast(ctx, text); err != nil {
			return errs.Delivery(err, "send scan notice")
		}
	}
	return nil
}
