package tgui

import (
	"strings"

	"workhub/internal/errs"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errs.New("tgui: callback_data too long")

// Data formats inline callback data as "prefix_payload" ("prefix" alone when
// payload is empty). It fails when the result exceeds Telegram's limit.
func Data(prefix, payload string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	s := prefix
	if payload != "" {
		s = prefix + "_" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// Payload returns the part of data after "prefix_".
// ok is false when data carries another prefix or an empty payload.
func Payload(data, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(data, prefix+"_")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
