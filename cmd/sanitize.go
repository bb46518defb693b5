package cmd

import "strings"

// sanitizePath replaces control characters (runes < 0x20 or == 0x7F) with '?'
// before including path values in human-readable output, preventing ANSI injection.
func sanitizePath(s string) string {
	return replaceControl(s, "")
}

// sanitizeText is sanitizePath for multi-line text such as command output
// and diffs: newlines and tabs are kept.
func sanitizeText(s string) string {
	return replaceControl(s, "\n\t")
}

func replaceControl(s, keep string) string {
	return strings.Map(func(r rune) rune {
		if (r < 0x20 || r == 0x7F) && !strings.ContainsRune(keep, r) {
			return '?'
		}
		return r
	}, s)
}
