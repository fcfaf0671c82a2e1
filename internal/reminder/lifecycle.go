package reminder

import (
	"context"
	"time"
)

// TaskState is what mutation handlers know about a task.
type TaskState struct {
	ID          string
	Title       string
	ProjectName string
	Deadline    *time.Time
}

func (t TaskState) hasDeadline() bool { return t.Deadline != nil && !t.Deadline.IsZero() }

// OnTaskCreated schedules a reminder for a task created with a deadline.
// The returned error is a scheduling error; callers log it and keep the task.
func (s *Scheduler) OnTaskCreated(ctx context.Context, t TaskState) error {
	if !t.hasDeadline() {
		return nil
	}
	return s.ScheduleDeadlineReminder(ctx, t.ID, t.Title, t.ProjectName, *t.Deadline)
}

// OnTaskUpdated reschedules when the deadline or the snapshot fields change and
// cancels when the deadline was cleared.
func (s *Scheduler) OnTaskUpdated(ctx context.Context, before, after TaskState) error {
	if !after.hasDeadline() {
		if before.hasDeadline() {
			return s.CancelDeadlineReminder(ctx, after.ID)
		}
		return nil
	}
	changed := !before.hasDeadline() ||
		!before.Deadline.Equal(*after.Deadline) ||
		before.Title != after.Title ||
		before.ProjectName != after.ProjectName
	if !changed {
		return nil
	}
	return s.ScheduleDeadlineReminder(ctx, after.ID, after.Title, after.ProjectName, *after.Deadline)
}

// OnTaskDeleted cancels any pending reminder.
func (s *Scheduler) OnTaskDeleted(ctx context.Context, taskID string) error {
	return s.CancelDeadlineReminder(ctx, taskID)
}

// OnTaskCompleted cancels the reminder of a finished task.
func (s *Scheduler) OnTaskCompleted(ctx context.Context, taskID string) error {
	return s.CancelDeadlineReminder(ctx, taskID)
}
