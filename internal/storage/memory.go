package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu         sync.Mutex
	dedup      map[string]time.Time
	deliveries []Delivery
	dead       []DeadJob
}

// NewMemory returns a process-local store. Contents are lost on exit.
func NewMemory() Store {
	return &memoryStore{dedup: map[string]time.Time{}}
}

func (m *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, v := range m.dedup {
		if v.Before(now) {
			delete(m.dedup, k)
		}
	}
	m.dedup[key] = until
	return nil
}

func (m *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.dedup[strings.TrimSpace(key)]
	return until, ok, nil
}

func (m *memoryStore) RecordDelivery(_ context.Context, d Delivery) error {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	if len(m.deliveries) > 1000 {
		m.deliveries = slices.Clone(m.deliveries[len(m.deliveries)-1000:])
	}
	return nil
}

func (m *memoryStore) RecordDeadJob(_ context.Context, j DeadJob) error {
	if j.At.IsZero() {
		j.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = slices.DeleteFunc(m.dead, func(d DeadJob) bool { return d.ID == j.ID })
	m.dead = append(m.dead, j)
	return nil
}

func (m *memoryStore) ListDeadJobs(_ context.Context, limit int) ([]DeadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadJob, 0, min(limit, len(m.dead)))
	for i := len(m.dead) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.dead[i])
	}
	return out, nil
}

func (m *memoryStore) Close() error { return nil }
