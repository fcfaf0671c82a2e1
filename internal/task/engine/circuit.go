package engine

import (
	"sync"
	"time"
)

type circuitCfg struct {
	trip      int
	base, ceiling time.Duration
	forget    time.Duration
}

// circuitFor returns false when neither the engine nor the task uses the breaker.
func circuitFor(cfg Config, opt TaskOptions) (circuitCfg, bool) {
	if cfg.CircuitTripFailures < 0 || opt.CircuitTripFailures < 0 {
		return circuitCfg{}, false
	}
	cc := circuitCfg{trip: cfg.CircuitTripFailures, base: cfg.CircuitBaseDelay, ceiling: cfg.CircuitMaxDelay, forget: cfg.CircuitResetAfter}
	if opt.CircuitTripFailures > 0 {
		cc.trip = opt.CircuitTripFailures
	}
	return cc, true
}

// breaker counts consecutive failures per task name. At the trip count the
// name is refused for base, and the pause doubles on each further failure up
// to the ceiling. A success, or forget without failures, clears the count.
type breaker struct {
	mu    sync.Mutex
	names map[string]*streak
}

type streak struct {
	fails    int
	lastFail time.Time
	until    time.Time
}

func (b *breaker) get(name string, now time.Time, cc circuitCfg) *streak {
	if b.names == nil {
		b.names = make(map[string]*streak)
	}
	st, ok := b.names[name]
	if !ok {
		st = &streak{}
		b.names[name] = st
	}
	if cc.forget > 0 && !st.lastFail.IsZero() && now.Sub(st.lastFail) > cc.forget {
		*st = streak{}
	}
	return st
}

func (b *breaker) openUntil(now time.Time, name string, cc circuitCfg) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(name, now, cc)
	return st.until, now.Before(st.until)
}

func (b *breaker) record(now time.Time, name string, cc circuitCfg, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(name, now, cc)
	if !failed {
		*st = streak{}
		return
	}
	st.fails++
	st.lastFail = now
	if over := st.fails - cc.trip; over >= 0 {
		pause := cc.base
		for ; over > 0 && pause < cc.ceiling; over-- {
			pause *= 2
		}
		st.until = now.Add(min(pause, cc.ceiling))
	}
}

func (b *breaker) counts(now time.Time) (total, open int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.names {
		if now.Before(st.until) {
			open++
		}
	}
	return len(b.names), open
}
