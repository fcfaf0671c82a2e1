package supervisor

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Counters cover every goroutine the supervisor spawned.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// GoroutineStats aggregates the runs of one named goroutine.
type GoroutineStats struct {
	Name         string        `json:"name"`
	Active       int64         `json:"active"`
	Started      uint64        `json:"started"`
	Restarts     uint64        `json:"restarts"`
	Panics       uint64        `json:"panics"`
	LastStartAt  time.Time     `json:"last_start_at"`
	LastStopAt   time.Time     `json:"last_stop_at,omitzero"`
	LastRuntime  time.Duration `json:"last_runtime"`
	TotalRuntime time.Duration `json:"total_runtime"`
	LastErr      string        `json:"last_err,omitempty"`
	LastErrAt    time.Time     `json:"last_err_at,omitzero"`
	LastPanic    string        `json:"last_panic,omitempty"`
}

// Snapshot is served by /healthz.
type Snapshot struct {
	Counters   Counters         `json:"counters"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

// Snapshot lists running goroutines first, then the most recently started.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters(), Goroutines: s.table.list()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	slices.SortFunc(snap.Goroutines, func(a, b GoroutineStats) int {
		switch {
		case a.Active != b.Active:
			return int(b.Active - a.Active)
		case !a.LastStartAt.Equal(b.LastStartAt):
			return b.LastStartAt.Compare(a.LastStartAt)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return snap
}

type statsTable struct {
	mu sync.Mutex
	m  map[string]*GoroutineStats
}

func (t *statsTable) with(name string, fn func(st *GoroutineStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = make(map[string]*GoroutineStats)
	}
	st, ok := t.m[name]
	if !ok {
		st = &GoroutineStats{Name: name}
		t.m[name] = st
	}
	fn(st)
}

func (t *statsTable) list() []GoroutineStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]GoroutineStats, 0, len(t.m))
	for _, st := range t.m {
		out = append(out, *st)
	}
	return out
}

func (t *statsTable) start(name string, restart bool) time.Time {
	now := time.Now()
	t.with(name, func(st *GoroutineStats) {
		st.Started++
		st.Active++
		st.LastStartAt = now
		if restart {
			st.Restarts++
		}
	})
	return now
}

func (t *statsTable) stop(name string, startedAt time.Time, err error) {
	now := time.Now()
	t.with(name, func(st *GoroutineStats) {
		st.Active = max(st.Active-1, 0)
		st.LastStopAt = now
		st.LastRuntime = now.Sub(startedAt)
		st.TotalRuntime += st.LastRuntime
		if err != nil {
			st.LastErr, st.LastErrAt = err.Error(), now
		}
	})
}

func (t *statsTable) panicked(name string, p any) {
	t.with(name, func(st *GoroutineStats) {
		st.Panics++
		st.LastPanic = fmt.Sprint(p)
	})
}
