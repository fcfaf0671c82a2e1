package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes. A cut moves
// back to the last newline in the window unless that leaves a chunk shorter
// than a third of the limit. In HTML mode a cut never lands inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, tele.ModeHTML)

	var out []string
	for len(rs) > 0 {
		cut := len(rs)
		if cut > limit {
			cut = limit
			if nl := lastIndex(rs[:cut], '\n'); nl >= limit/3 {
				cut = nl + 1
			}
			if html {
				if lt := lastIndex(rs[:cut], '<'); lt > 1 && lt > lastIndex(rs[:cut], '>') {
					cut = lt
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[:cut]), "\n"))
		rs = rs[cut:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
