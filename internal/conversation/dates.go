package conversation

import (
	"strconv"
	"strings"
	"time"

	"workhub/internal/errs"
	"workhub/pkg/tgui"
)

var (
	// Wall-clock layouts, interpreted in the configured location.
	localLayouts = []string{
		"02.01.2006 15:04",
		"02.01.2006",
	}
	// Machine-readable timestamps. Those without an offset use the location.
	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
	}
	fallbackLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2.1.2006 15:04",
		"2.1.2006",
		"02/01/2006 15:04",
		"02/01/2006",
		"2 Jan 2006 15:04",
		"2 Jan 2006",
		"2 January 2006 15:04",
		"2 January 2006",
		"Jan 2, 2006 15:04",
		"Jan 2, 2006",
		"January 2, 2006",
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
	}
)

// skipWords end the deadline step without a deadline.
var skipWords = []string{"skip", "пропустить"}

func isSkip(text string) bool {
	text = strings.TrimSpace(text)
	for _, w := range skipWords {
		if strings.EqualFold(text, w) {
			return true
		}
	}
	return false
}

// ParseDeadline reads a user-typed deadline. Day-first formats win over the
// ISO ones, and both win over the best-effort fallbacks.
func ParseDeadline(text string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return time.Time{}, errs.Input("empty deadline", textBadDeadline)
	}
	for _, group := range [][]string{localLayouts, isoLayouts, fallbackLayouts} {
		for _, layout := range group {
			if t, err := time.ParseInLocation(layout, text, loc); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, errs.Input("unrecognized deadline "+strconv.Quote(tgui.TruncRunes(text, 64)), textBadDeadline)
}
