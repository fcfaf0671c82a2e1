package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

const warnThrottleEvery = 5 * time.Second

// history is a fixed-size ring of the latest task records.
type history struct {
	size int

	mu   sync.Mutex
	ring []Record
	next int
	full bool
}

func (h *history) add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ring == nil {
		h.ring = make([]Record, max(h.size, 1))
	}
	h.ring[h.next] = r
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
}

// list returns records oldest first.
func (h *history) list() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Record(nil), h.ring[:h.next]...)
	}
	out := make([]Record, 0, len(h.ring))
	out = append(out, h.ring[h.next:]...)
	return append(out, h.ring[:h.next]...)
}

type dropStats struct {
	total, queueFull, stale  atomic.Uint64
	queueFullWarn, staleWarn warnGate
}

// warnGate lets one warning through per warnThrottleEvery.
type warnGate struct{ last atomic.Int64 }

func (g *warnGate) allow(now time.Time) bool {
	prev := g.last.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return false
	}
	return g.last.CompareAndSwap(prev, now.UnixNano())
}
