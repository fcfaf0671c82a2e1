package scheduler

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

// maxFirstRunJitter caps the random offset added to the first run of an
// interval trigger. Several workhub processes sharing one queue then do not
// all fire the same trigger in the same second after a deploy.
const maxFirstRunJitter = 30 * time.Second

// delayedFirst fires once at first, then follows every.
type delayedFirst struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (d delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.every.Next(t)
}

func intervalSchedule(name string, every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxFirstRunJitter)
	if window <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewSource(now.UnixNano() ^ int64(h.Sum64())))
	// cron fires on whole seconds, so the offset and the first run do too.
	jitter := time.Duration(rng.Int63n(int64(window))).Truncate(time.Second)
	return delayedFirst{every: base, first: now.Add(every + jitter).Truncate(time.Second)}, jitter
}
