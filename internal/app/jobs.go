package app

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"workhub/internal/config"
	"workhub/internal/errs"
	"workhub/internal/jobqueue"
	"workhub/internal/reminder"
	logx "workhub/pkg/logx"
)

// JobControl is the queue-only slice of the app used by the jobs CLI. It
// talks to the same Redis queue as a running instance and starts nothing.
type JobControl struct {
	rdb       redis.UniversalClient
	queue     jobqueue.Queue
	reminders *reminder.Scheduler
}

func OpenJobControl(ctx context.Context, cfg *config.Config, log logx.Logger) (*JobControl, error) {
	if cfg.Queue.Driver != "redis" {
		return nil, errs.WithHint(
			errs.Newf("queue.driver is %q", cfg.Queue.Driver),
			"jobs commands only reach a shared redis queue",
		)
	}
	rcfg, err := mapRemindersConfig(cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	q := openQueue(cfg, rdb)
	return newJobControl(rdb, q, reminder.NewScheduler(rcfg, q, log, nil)), nil
}

func newJobControl(rdb redis.UniversalClient, q jobqueue.Queue, rem *reminder.Scheduler) *JobControl {
	return &JobControl{rdb: rdb, queue: q, reminders: rem}
}

// List returns pending jobs ordered by due time.
func (j *JobControl) List(ctx context.Context) ([]jobqueue.Envelope, error) {
	envs, err := j.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(envs, func(a, b int) bool { return envs[a].DueAt.Before(envs[b].DueAt) })
	return envs, nil
}

func (j *JobControl) Schedule(ctx context.Context, taskID, title, project string, deadline time.Time) error {
	return j.reminders.ScheduleDeadlineReminder(ctx, taskID, title, project, deadline)
}

// Cancel reports whether a pending reminder existed.
func (j *JobControl) Cancel(ctx context.Context, taskID string) (bool, error) {
	_, _, found, err := j.reminders.PendingDeadlineReminder(ctx, taskID)
	if err != nil {
		return false, err
	}
	if err := j.reminders.CancelDeadlineReminder(ctx, taskID); err != nil {
		return false, err
	}
	return found, nil
}

func (j *JobControl) TriggerScan(ctx context.Context, hours int) error {
	return j.reminders.TriggerScan(ctx, hours)
}

func (j *JobControl) TriggerDigest(ctx context.Context) error {
	return j.reminders.TriggerDigest(ctx)
}

func (j *JobControl) Close() error {
	_ = j.queue.Close()
	if j.rdb != nil {
		return j.rdb.Close()
	}
	return nil
}
