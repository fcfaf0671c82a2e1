package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sink delivers one formatted log line to a chat.
type Sink interface {
	SendLog(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) SendLog(ctx context.Context, text string) error { return f(ctx, text) }

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatMaxText     = 3500
	chatMaxValue    = 600
)

// chatWriter is a zerolog.LevelWriter that never blocks the logging caller.
// Lines go through a token bucket into a bounded queue and are dropped when
// either is exhausted.
type chatWriter struct {
	mu       sync.Mutex
	sink     Sink
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan string
	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newChatWriter(sink Sink) *chatWriter {
	return &chatWriter{
		sink:     sink,
		minLevel: zerolog.WarnLevel,
		queue:    make(chan string, chatQueueSize),
		done:     make(chan struct{}),
	}
}

func (w *chatWriter) setSink(sink Sink) {
	w.mu.Lock()
	w.sink = sink
	w.mu.Unlock()
}

func (w *chatWriter) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	w.mu.Lock()
	w.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	if w.limiter == nil {
		w.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	} else {
		w.limiter.SetLimit(rate.Limit(rps))
		w.limiter.SetBurst(rps)
	}
	w.mu.Unlock()

	if cfg.Enabled {
		w.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			w.mu.Lock()
			w.cancel = cancel
			w.mu.Unlock()
			go w.run(ctx)
		})
	}
}

func (w *chatWriter) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-w.queue:
			w.mu.Lock()
			sink := w.sink
			w.mu.Unlock()
			if sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_ = sink.SendLog(sctx, line)
			cancel()
		}
	}
}

func (w *chatWriter) close() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		<-w.done
	}
}

func (w *chatWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.NoLevel, p) }

func (w *chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.mu.Lock()
	pass := w.sink != nil && w.limiter != nil && level != zerolog.NoLevel && level >= w.minLevel
	lim := w.limiter
	w.mu.Unlock()

	if !pass || !lim.Allow() {
		return len(p), nil
	}
	if line := chatLine(p); line != "" {
		select {
		case w.queue <- line:
		default:
		}
	}
	return len(p), nil
}

// chatLine renders a JSON event as "[LEVEL] message" followed by one
// "- key=value" line per remaining field in key order.
func chatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var ev map[string]any
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return clip(raw, chatMaxText)
	}

	var b strings.Builder
	if lvl, _ := ev[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := ev[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(ev))
	for k := range ev {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(ev[k]), chatMaxValue))
	}
	return clip(b.String(), chatMaxText)
}

func clip(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
