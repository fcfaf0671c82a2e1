package reminder

import (
	"context"
	"time"
)

const (
	DeliveryLog    = "log"
	DeliveryNotify = "notify"

	// Global keys of the recurring jobs. Triggers from several processes at the
	// same instant supersede each other instead of queueing duplicates.
	scanKey   = "reminder_scan"
	digestKey = "daily_digest"
)

// Config mirrors config.reminders with durations parsed.
type Config struct {
	LeadTime      time.Duration
	ReminderHours int
	ScanSchedule  string
	DigestAt      string
	ScanDelivery  string
	Location      *time.Location
}

func (c Config) withDefaults() Config {
	if c.ReminderHours <= 0 {
		c.ReminderHours = 24
	}
	if c.ScanSchedule == "" {
		c.ScanSchedule = "@hourly"
	}
	if c.DigestAt == "" {
		c.DigestAt = "09:00"
	}
	if c.ScanDelivery == "" {
		c.ScanDelivery = DeliveryLog
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.LeadTime < 0 {
		c.LeadTime = 0
	}
	return c
}

// Task is an open task as seen by the registry.
type Task struct {
	ID          string
	Title       string
	ProjectID   string
	ProjectName string
	Deadline    time.Time
}

// Member is one project membership.
type Member struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Record is one (task, member) pair produced by a scan. Never persisted.
type Record struct {
	TaskID             string    `json:"task_id"`
	TaskTitle          string    `json:"task_title"`
	ProjectID          string    `json:"project_id"`
	ProjectName        string    `json:"project_name"`
	Deadline           time.Time `json:"deadline"`
	HoursUntilDeadline int       `json:"hours_until_deadline"`
	Recipient          Member    `json:"recipient"`
}

// TaskRegistry is the read-only view of the tracker's tasks and projects.
// Only tasks that are not completed and have a deadline are returned.
type TaskRegistry interface {
	// TasksDueWithin lists tasks with from <= deadline <= to.
	TasksDueWithin(ctx context.Context, from, to time.Time) ([]Task, error)
	// CountTasksDueBefore counts tasks with deadline < before.
	CountTasksDueBefore(ctx context.Context, before time.Time) (int, error)
	ProjectMembers(ctx context.Context, projectID string) ([]Member, error)
}

// Notifier delivers text to the broadcast destination.
type Notifier interface {
	Broadcast(ctx context.Context, text string) error
}

// DeadlinePayload is the snapshot stored with a deadline reminder.
//
// It is captured when the reminder is scheduled and not re-read when it fires,
// so the text matches what the task looked like at that moment. A rename after
// scheduling shows up only if the task is scheduled again (OnTaskUpdated does
// that whenever title, project or deadline change).
type DeadlinePayload struct {
	TaskID      string    `json:"task_id"`
	TaskTitle   string    `json:"task_title"`
	ProjectName string    `json:"project_name"`
	Deadline    time.Time `json:"deadline"`
}

// ScanPayload lets a single run override the lookahead.
type ScanPayload struct {
	ReminderHours int `json:"reminder_hours,omitempty"`
}
