package tgui

// TruncRunes keeps the first n runes of s and appends "…" if anything was cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	k := 0
	for i := range s {
		if k == n {
			return s[:i] + "…"
		}
		k++
	}
	return s
}
