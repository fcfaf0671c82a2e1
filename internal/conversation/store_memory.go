package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. Expired sessions are invisible to
// Get and removed by Sweep.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	m     map[int64]Session
	now   func() time.Time
	locks *keyedLocks
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryStore{ttl: ttl, m: map[int64]Session{}, now: time.Now, locks: newKeyedLocks()}
}

func (s *MemoryStore) Get(_ context.Context, chatID int64) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		return Session{}, false, nil
	}
	if s.expired(sess, s.now()) {
		delete(s.m, chatID)
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (s *MemoryStore) Put(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = s.now()
	s.m[sess.ChatID] = sess
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	delete(s.m, chatID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, chatID int64) (func(), error) {
	return s.locks.Lock(ctx, chatID)
}

// Sweep drops sessions idle for longer than the TTL and returns how many.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.m {
		if s.expired(sess, now) {
			delete(s.m, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *MemoryStore) expired(sess Session, now time.Time) bool {
	return now.Sub(sess.UpdatedAt) >= s.ttl
}
