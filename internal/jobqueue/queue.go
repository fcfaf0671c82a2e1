package jobqueue

import (
	"context"
	"time"
)

// Queue stores envelopes by address.
type Queue interface {
	// Upsert stores env, replacing any pending or leased job at the same address.
	Upsert(ctx context.Context, env Envelope) error
	// Remove deletes the job at (kind, key). Absent jobs are not an error.
	Remove(ctx context.Context, kind Kind, key string) (bool, error)
	// Get returns the job at (kind, key).
	Get(ctx context.Context, kind Kind, key string) (Envelope, bool, error)

	// Claim leases up to max jobs due at now and increments their Attempts.
	Claim(ctx context.Context, now time.Time, lease time.Duration, max int) ([]Envelope, error)
	// Ack deletes a claimed job unless it was superseded since the claim.
	Ack(ctx context.Context, env Envelope) error
	// Nack returns a claimed job to the due set at retryAt.
	Nack(ctx context.Context, env Envelope, retryAt time.Time) error
	// Release is Nack for a claim whose handler never ran. The claim is not
	// counted in Attempts.
	Release(ctx context.Context, env Envelope, retryAt time.Time) error
	// Reap returns jobs whose lease expired before now to the due set.
	Reap(ctx context.Context, now time.Time) (int, error)

	// List returns every stored job ordered by due time.
	List(ctx context.Context) ([]Envelope, error)
	Close() error
}
