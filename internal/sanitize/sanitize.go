package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// StripControlChars removes non-printable control characters except newline and tab.
// This prevents issues with terminal escape sequences and other control characters.
func StripControlChars(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	for _, r := range s {
		// Keep newline (0x0A), tab (0x09), and carriage return (0x0D)
		if r == '\n' || r == '\t' || r == '\r' {
			builder.WriteRune(r)
			continue
		}

		// Also drops bidi overrides, which can disguise the text around them.
		if unicode.IsControl(r) || isBidiControl(r) {
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

func isBidiControl(r rune) bool {
	return (r >= 0x202A && r <= 0x202E) || (r >= 0x2066 && r <= 0x2069)
}

// SingleLine collapses every run of whitespace, newlines included, into one
// space and trims the ends.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(StripControlChars(s)), " ")
}

// Truncate shortens s to at most n runes, appending suffix when cut. The
// suffix counts towards n and is dropped when it does not fit.
func Truncate(s string, n int, suffix string) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	keep := n - utf8.RuneCountInString(suffix)
	if keep <= 0 {
		return string(runes[:n])
	}
	return string(runes[:keep]) + suffix
}

// Text prepares untrusted single-field input such as a nickname or a
// title: control characters removed, whitespace collapsed, length capped.
func Text(s string, maxRunes int) string {
	return Truncate(SingleLine(s), maxRunes, "")
}
