package reminder

import (
	"context"
	"time"

	"workhub/internal/errs"
	"workhub/internal/jobqueue"
	"workhub/internal/task/engine"
	logx "workhub/pkg/logx"
)

// DeadlineDispatcher sends the one-shot reminder of a single task.
type DeadlineDispatcher struct {
	notify Notifier
	loc    *time.Location
	log    logx.Logger
}

func NewDeadlineDispatcher(notify Notifier, loc *time.Location, log logx.Logger) *DeadlineDispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &DeadlineDispatcher{notify: notify, loc: loc, log: log.With(logx.String("comp", "reminder.deadline"))}
}

// Handle runs a deadline_reminder job from its snapshot payload.
func (d *DeadlineDispatcher) Handle(ctx context.Context, env jobqueue.Envelope) error {
	var p DeadlinePayload
	if err := env.Decode(&p); err != nil {
		return engine.NoRetry(err)
	}
	if p.TaskTitle == "" || p.Deadline.IsZero() {
		return engine.NoRetry(errs.Newf("deadline reminder %s: incomplete payload", env.Key))
	}

	text := FormatDeadline(p.TaskTitle, p.ProjectName, p.Deadline, d.loc)
	if err := d.notify.Broadcast(ctx, text); err != nil {
		return errs.Delivery(err, "send deadline reminder")
	}
	d.log.Info("deadline reminder sent",
		logx.String("task", p.TaskID),
		logx.String("title", p.TaskTitle),
		logx.String("project", p.ProjectName),
		logx.Int("attempt", env.Attempts),
	)
	return nil
}
