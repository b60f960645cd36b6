// Package format provides the byte-bounded string, size and duration
// formatting shared by producers and the watch view.
package format

import "unicode/utf8"

// TruncateBytes returns the longest prefix of s that is at most maxLen bytes
// and does not end in the middle of a UTF-8 sequence.
func TruncateBytes(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// FitBytes is TruncateBytes for byte slices. It returns the number of
// leading bytes of p that fit in maxLen without splitting a rune.
func FitBytes(p []byte, maxLen int) int {
	if maxLen <= 0 {
		return 0
	}
	if len(p) <= maxLen {
		return len(p)
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(p[cut]) {
		cut--
	}
	return cut
}

// TruncateWithEllipsis truncates a string to maxWidth runes, appending "..."
// if the string exceeds the limit. If maxWidth is less than 4, the string
// is hard-truncated without an ellipsis suffix.
func TruncateWithEllipsis(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= maxWidth {
		return s
	}

	if maxWidth < 4 {
		return string(runes[:maxWidth])
	}

	return string(runes[:maxWidth-3]) + "..."
}
