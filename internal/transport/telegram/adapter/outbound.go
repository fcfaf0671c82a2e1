package adapter

import (
	"context"
	"hash/fnv"

	tele "gopkg.in/telebot.v4"

	"workhub/internal/errs"
	kit "workhub/internal/transport"
	logx "workhub/pkg/logx"
	"workhub/pkg/tgui"
)

const (
	maxMenuCommands    = 100
	maxMenuDescription = 256
)

// SendText sends text, split into as many messages as the Telegram limit
// requires. The keyboard goes on the first message, whose ref is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(opt, to.ThreadID, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = to.Ref(msg.ID)
		}
	}
	return first, nil
}

// EditText replaces the text of ref; overflow beyond one message is sent as
// follow-ups. Editing without a keyboard removes the one the message had.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: ref.ChatID}
	if _, err := a.bot.Edit(&tele.Message{ID: ref.MessageID, Chat: chat}, chunks[0], sendOptions(opt, 0, true)); err != nil {
		return err
	}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, sendOptions(opt, ref.ThreadID, false)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands calls setMyCommands when the list differs from the last
// one sent. Commands without a name are skipped.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	list := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		if len(list) == maxMenuCommands {
			break
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		desc = tgui.TruncRunes(desc, maxMenuDescription)
		list = append(list, tele.Command{Text: c.Command, Description: desc})
		h.Write([]byte(c.Command + "\x00" + desc + "\x00"))
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuSum {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return errs.Wrap(err, "telegram setMyCommands")
	}
	a.menuSum = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func sendOptions(opt *kit.SendOptions, threadID int, withKeyboard bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
	if withKeyboard && len(opt.Keyboard) > 0 {
		so.ReplyMarkup = markup(opt.Keyboard)
	}
	return so
}

// markup renders a neutral keyboard. Buttons without data are skipped.
func markup(rows [][]kit.Button) *tele.ReplyMarkup {
	in := tgui.NewInline()
	for _, row := range rows {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			if b.Data != "" {
				btns = append(btns, tgui.Btn(b.Text, b.Data))
			}
		}
		in.Row(btns...)
	}
	return in.Markup()
}
