package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// MaxButtonTextRunes caps button labels so long project names keep the
// keyboard readable.
const MaxButtonTextRunes = 48

// Inline accumulates inline keyboard rows.
type Inline struct {
	rows []tele.Row
}

func NewInline() *Inline { return &Inline{} }

// Row adds one row. A row without buttons is dropped.
func (i *Inline) Row(btns ...tele.Btn) *Inline {
	if len(btns) > 0 {
		i.rows = append(i.rows, tele.Row(btns))
	}
	return i
}

func (i *Inline) Len() int { return len(i.rows) }

// Markup renders the rows, or nil for an empty keyboard.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if len(i.rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	rm.Inline(i.rows...)
	return rm
}

// Btn is a callback button. data is sent verbatim; build it with Data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: TruncRunes(text, MaxButtonTextRunes), Data: data}
}
