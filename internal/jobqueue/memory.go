package jobqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"workhub/internal/errs"
)

type memEntry struct {
	env        Envelope
	leaseUntil time.Time // zero while due
}

// MemoryQueue is a process-local Queue for single-process runs and tests.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*memEntry
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{jobs: map[string]*memEntry{}}
}

func (q *MemoryQueue) Upsert(_ context.Context, env Envelope) error {
	if env.ID == "" || env.Kind == "" || env.Key == "" {
		return errs.New("envelope id, kind and key required")
	}
	env.Attempts = 0
	env.LeaseUntil = time.Time{}
	q.mu.Lock()
	q.jobs[env.Address()] = &memEntry{env: env}
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, kind Kind, key string) (bool, error) {
	addr := Address(kind, key)
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[addr]
	delete(q.jobs, addr)
	return ok, nil
}

func (q *MemoryQueue) Get(_ context.Context, kind Kind, key string) (Envelope, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[Address(kind, key)]
	if !ok {
		return Envelope{}, false, nil
	}
	return e.view(), true, nil
}

func (q *MemoryQueue) Claim(_ context.Context, now time.Time, lease time.Duration, max int) ([]Envelope, error) {
	if max <= 0 {
		max = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]*memEntry, 0)
	for _, e := range q.jobs {
		if e.leaseUntil.IsZero() && !e.env.DueAt.After(now) {
			due = append(due, e)
		}
	}
	slices.SortFunc(due, func(a, b *memEntry) int { return a.env.DueAt.Compare(b.env.DueAt) })
	if len(due) > max {
		due = due[:max]
	}

	out := make([]Envelope, 0, len(due))
	for _, e := range due {
		e.leaseUntil = now.Add(lease)
		e.env.Attempts++
		out = append(out, e.view())
	}
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.jobs[env.Address()]; ok && e.env.ID == env.ID {
		delete(q.jobs, env.Address())
	}
	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, env Envelope, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.jobs[env.Address()]; ok && e.env.ID == env.ID {
		e.leaseUntil = time.Time{}
		e.env.DueAt = retryAt
	}
	return nil
}

func (q *MemoryQueue) Release(_ context.Context, env Envelope, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.jobs[env.Address()]; ok && e.env.ID == env.ID {
		e.leaseUntil = time.Time{}
		e.env.DueAt = retryAt
		e.env.Attempts = max(e.env.Attempts-1, 0)
	}
	return nil
}

func (q *MemoryQueue) Reap(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.jobs {
		if !e.leaseUntil.IsZero() && !e.leaseUntil.After(now) {
			e.leaseUntil = time.Time{}
			e.env.DueAt = now
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) List(_ context.Context) ([]Envelope, error) {
	q.mu.Lock()
	out := make([]Envelope, 0, len(q.jobs))
	for _, e := range q.jobs {
		out = append(out, e.view())
	}
	q.mu.Unlock()
	sortByDue(out)
	return out, nil
}

func (q *MemoryQueue) Close() error { return nil }

func (e *memEntry) view() Envelope {
	env := e.env
	env.LeaseUntil = e.leaseUntil
	return env
}
