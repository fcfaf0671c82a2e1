package notify

import (
	"context"
	"time"

	kit "workhub/internal/transport"
)

// Config controls outbound delivery.
type Config struct {
	// Enabled is false when the bot token or the chat id is missing.
	Enabled bool
	ChatID  int64

	RatePerSec      int
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool

	// SendTimeout bounds a single Telegram call. Default 10s.
	SendTimeout time.Duration
}

// Sender is the part of transport.Adapter notify needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

const (
	kindBroadcast = "broadcast"
	kindReply     = "reply"
)
