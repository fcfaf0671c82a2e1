package eventbus

import (
	"sync"
	"time"
)

// Event is an in-process notification. Publish never blocks; a subscriber
// whose buffer is full misses the event. Data should marshal to JSON.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published by workhub components.
const (
	JobScheduled = "job.scheduled"
	JobCancelled = "job.cancelled"
	JobDead      = "job.dead"

	NotifySent       = "notify.sent"
	NotifyFailed     = "notify.failed"
	NotifySuppressed = "notify.suppressed"

	ConversationSubmitted = "conversation.submitted"
	ConversationFailed    = "conversation.failed"

	ConfigReloaded = "config.reloaded"

	ScheduleFired = "schedule.fired" // Data is the trigger name

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"
)

// JobEvent is the Data of job.* events.
type JobEvent struct {
	Kind  string
	Key   string
	DueAt time.Time
	Err   string `json:",omitempty"`
}

// NotifyEvent is the Data of notify.* events.
type NotifyEvent struct {
	ChatID int64
	Chars  int
	Err    string `json:",omitempty"`
}

// ConversationEvent is the Data of conversation.* events.
type ConversationEvent struct {
	ChatID    int64
	UserID    string
	ProjectID string
	Err       string `json:",omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: make(map[chan Event]struct{})}
}

// Nop returns a bus that discards every event.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

// memBus sends under the read lock; unsubscribe closes under the write lock,
// so a send never races a close.
type memBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
}
