package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

func dedupKey(chatID int64, text string) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "telegram|%d|", chatID)
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupReserve claims key for the dedup window. It returns false while an
// earlier send of the same key is still suppressing.
func (s *Service) dedupReserve(ctx context.Context, key string, cfg Config) bool {
	now := time.Now()

	// 1) In-memory check.
	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// 2) Persistent check (best-effort) for cross-restart dedup.
	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	// 3) Claim and prune.
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(cfg.DedupWindow)
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Remove entries with earliest expiry until within cap.
	for len(s.dedup) > cfg.DedupMaxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

// dedupRelease forgets a reservation whose send failed so a retry goes out.
func (s *Service) dedupRelease(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

// dedupPersist queues the suppress-until of a sent key for storage.
func (s *Service) dedupPersist(key string) {
	s.dmu.Lock()
	until, ok := s.dedup[key]
	s.dmu.Unlock()

	if !ok {
		return
	}
	// Held across the send so Stop cannot close the channel under us.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistCh == nil {
		return
	}
	select {
	case s.persistCh <- dedupWrite{key: key, until: until}:
	default:
	}
}
