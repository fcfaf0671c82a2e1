package reminder

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"workhub/internal/errs"
	"workhub/internal/jobqueue"
	logx "workhub/pkg/logx"
)

// Digest is the daily summary.
type Digest struct {
	Today    int
	Overdue  int
	Tomorrow []Task
}

// DigestDispatcher aggregates today, overdue and tomorrow counts.
type DigestDispatcher struct {
	reg    TaskRegistry
	notify Notifier
	loc    *time.Location
	log    logx.Logger

	now func() time.Time
}

func NewDigestDispatcher(reg TaskRegistry, notify Notifier, loc *time.Location, log logx.Logger) *DigestDispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &DigestDispatcher{
		reg:    reg,
		notify: notify,
		loc:    loc,
		log:    log.With(logx.String("comp", "reminder.digest")),
		now:    time.Now,
	}
}

// dayBounds returns [start, end] of the local day containing t, end being the
// last millisecond of that day.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1).Add(-time.Millisecond)
}

// Build runs the three registry queries concurrently.
func (d *DigestDispatcher) Build(ctx context.Context) (Digest, error) {
	todayStart, todayEnd := dayBounds(d.now(), d.loc)
	tomorrowStart, tomorrowEnd := dayBounds(todayStart.AddDate(0, 0, 1), d.loc)

	var (
		out      Digest
		today    []Task
		tomorrow []Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		today, err = d.reg.TasksDueWithin(gctx, todayStart, todayEnd)
		return errs.Wrap(err, "query tasks due today")
	})
	g.Go(func() error {
		var err error
		out.Overdue, err = d.reg.CountTasksDueBefore(gctx, todayStart)
		return errs.Wrap(err, "count overdue tasks")
	})
	g.Go(func() error {
		var err error
		tomorrow, err = d.reg.TasksDueWithin(gctx, tomorrowStart, tomorrowEnd)
		return errs.Wrap(err, "query tasks due tomorrow")
	})
	if err := g.Wait(); err != nil {
		return Digest{}, err
	}
	out.Today = len(today)
	out.Tomorrow = tomorrow
	return out, nil
}

// Handle runs a daily_digest job.
func (d *DigestDispatcher) Handle(ctx context.Context, _ jobqueue.Envelope) error {
	dg, err := d.Build(ctx)
	if err != nil {
		return err
	}
	if err := d.notify.Broadcast(ctx, FormatDigest(dg)); err != nil {
		return errs.Delivery(err, "send daily digest")
	}
	d.log.Info("daily digest sent",
		logx.Int("today", dg.Today),
		logx.Int("overdue", dg.Overdue),
		logx.Int("tomorrow", len(dg.Tomorrow)),
	)
	return nil
}

// Register binds the dispatchers to their job kinds.
func Register(c *jobqueue.Consumer, scan *Scanner, deadline *DeadlineDispatcher, digest *DigestDispatcher) {
	c.Handle(jobqueue.KindReminderScan, scan.Handle)
	c.Handle(jobqueue.KindDeadlineReminder, deadline.Handle)
	c.Handle(jobqueue.KindDailyDigest, digest.Handle)
}
