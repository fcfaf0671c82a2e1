// Package transport is the chat-platform-neutral surface the rest of workhub
// talks to. The Telegram implementation lives in telegram/adapter.
package transport

import "context"

// Addressing.
type (
	// ChatTarget is where a new message goes. ThreadID selects a forum topic
	// and is 0 outside forums.
	ChatTarget struct {
		ChatID   int64
		ThreadID int
	}

	// MessageRef identifies a message already sent, for edits.
	MessageRef struct {
		ChatID    int64
		ThreadID  int
		MessageID int
	}
)

func (t ChatTarget) Ref(messageID int) MessageRef {
	return MessageRef{ChatID: t.ChatID, ThreadID: t.ThreadID, MessageID: messageID}
}

// Inbound.
type (
	UpdateKind string

	// Update carries exactly one of Message or Callback, matching Kind.
	Update struct {
		Kind     UpdateKind
		Message  *Message
		Callback *Callback
	}

	Message struct {
		ID           int
		ChatID       int64
		ThreadID     int
		FromID       int64
		FromUsername string
		Text         string
	}

	// Callback is a press on an inline button; Data is the button payload.
	Callback struct {
		ID        string
		FromID    int64
		ChatID    int64
		ThreadID  int
		MessageID int
		Data      string
	}
)

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Source is the message the button was attached to.
func (c *Callback) Source() MessageRef {
	return MessageRef{ChatID: c.ChatID, ThreadID: c.ThreadID, MessageID: c.MessageID}
}

// Outbound.
type (
	Button struct {
		Text string
		Data string
	}

	SendOptions struct {
		ParseMode      string
		DisablePreview bool
		// Keyboard goes under the first chunk of a split message. On EditText a
		// non-nil empty keyboard clears the existing one.
		Keyboard [][]Button
	}

	// BotCommand is one entry of the platform command menu.
	BotCommand struct {
		Command     string
		Description string
	}
)

// Adapter is a chat platform connection. Start delivers updates to out until
// ctx ends or Stop is called.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// WebhookReceiver accepts raw webhook bodies as an alternative to polling.
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, body []byte) error
}

// CommandMenuUpdater replaces the platform's command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
