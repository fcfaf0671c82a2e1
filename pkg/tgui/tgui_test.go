package tgui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataAndPayload(t *testing.T) {
	t.Parallel()

	d, err := Data("project", "c7f1a2")
	require.NoError(t, err)
	assert.Equal(t, "project_c7f1a2", d)

	id, ok := Payload(d, "project")
	assert.True(t, ok)
	assert.Equal(t, "c7f1a2", id)

	_, ok = Payload("skip_deadline", "project")
	assert.False(t, ok)
	_, ok = Payload("project_", "project")
	assert.False(t, ok)

	plain, err := Data("skip_deadline", "")
	require.NoError(t, err)
	assert.Equal(t, "skip_deadline", plain)

	_, err = Data("project", strings.Repeat("x", 60))
	assert.ErrorIs(t, err, ErrCallbackDataTooLong)
}

func TestInlineRows(t *testing.T) {
	t.Parallel()

	in := NewInline()
	assert.Nil(t, in.Markup())

	in.Row(Btn("Apollo", "project_1")).Row().Row(Btn("⏭ Skip", "skip_deadline"))
	require.Equal(t, 2, in.Len())
	rm := in.Markup()
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 2)
	assert.Equal(t, "project_1", rm.InlineKeyboard[0][0].Data)
	assert.Equal(t, "⏭ Skip", rm.InlineKeyboard[1][0].Text)
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Проект", TruncRunes("Проект", 6))
	assert.Equal(t, "Про…", TruncRunes("Проект", 3))
	assert.Equal(t, "", TruncRunes("x", 0))
	assert.Len(t, []rune(Btn(strings.Repeat("a", 100), "d").Text), MaxButtonTextRunes+1)
}
