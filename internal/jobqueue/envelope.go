package jobqueue

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"workhub/internal/errs"
)

// Kind selects the handler for an envelope.
type Kind string

const (
	KindDeadlineReminder Kind = "deadline_reminder"
	KindReminderScan     Kind = "reminder_scan"
	KindDailyDigest      Kind = "daily_digest"
)

// Envelope is one unit of delayed work.
type Envelope struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	Key      string          `json:"key"`
	DueAt    time.Time       `json:"due_at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Attempts int             `json:"attempts"`
	Created  time.Time       `json:"created"`

	// LeaseUntil is set by List for jobs currently claimed by a worker.
	LeaseUntil time.Time `json:"lease_until,omitzero"`
}

// NewEnvelope builds an envelope with a fresh id and payload marshalled to JSON.
func NewEnvelope(kind Kind, key string, dueAt time.Time, payload any) (Envelope, error) {
	key = strings.TrimSpace(key)
	if kind == "" {
		return Envelope{}, errs.New("job kind required")
	}
	if key == "" {
		return Envelope{}, errs.New("job key required")
	}
	env := Envelope{
		ID:      uuid.NewString(),
		Kind:    kind,
		Key:     key,
		DueAt:   dueAt,
		Created: time.Now(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, errs.Wrapf(err, "marshal %s payload", kind)
		}
		env.Payload = b
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errs.Wrapf(err, "decode %s payload", e.Kind)
	}
	return nil
}

// Address is the queue identity of the envelope.
func (e Envelope) Address() string { return Address(e.Kind, e.Key) }

// Address joins kind and key into the queue identity.
func Address(kind Kind, key string) string { return string(kind) + ":" + key }
