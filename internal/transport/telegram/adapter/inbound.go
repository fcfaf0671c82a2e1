package adapter

import (
	tele "gopkg.in/telebot.v4"

	kit "workhub/internal/transport"
)

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, ThreadID: m.ThreadID, Text: m.Text}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromUsername = u.ID, u.Username
	}
	a.deliver(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	cq, m := c.Callback(), c.Message()
	if cq == nil || m == nil || m.Chat == nil {
		return nil
	}
	cb := &kit.Callback{ID: cq.ID, ChatID: m.Chat.ID, ThreadID: m.ThreadID, MessageID: m.ID, Data: cq.Data}
	if cq.Sender != nil {
		cb.FromID = cq.Sender.ID
	}
	a.deliver(kit.Update{Kind: kit.UpdateCallback, Callback: cb})
	return nil
}

// deliver never blocks the telebot handler; a full channel drops the update.
func (a *Adapter) deliver(up kit.Update) {
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}
