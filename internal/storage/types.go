package storage

import (
	"context"
	"encoding/json"
	"time"

	"workhub/internal/errs"
)

var ErrDisabled = errs.Mark(errs.New("storage disabled"), errs.ErrDisabled)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": process-local maps (tests, dev)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by notify and the job consumer.
type Store interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	RecordDelivery(ctx context.Context, d Delivery) error
	RecordDeadJob(ctx context.Context, j DeadJob) error
	ListDeadJobs(ctx context.Context, limit int) ([]DeadJob, error)

	Close() error
}

// Delivery records one outbound message attempt.
// Keep it compact and schema-stable.
type Delivery struct {
	At     time.Time
	Kind   string // broadcast | reply
	ChatID string
	Chars  int
	OK     bool
	Error  string
	TookMS int64
}

// DeadJob is a queued job that exhausted its retries.
type DeadJob struct {
	At       time.Time       `json:"at"`
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Key      string          `json:"key"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
