package render

import "strings"

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Escape replaces the five HTML-significant characters with their entities.
// It is not idempotent: escaping escaped text encodes the ampersands again,
// so every raw value must be escaped exactly once.
func Escape(s string) string {
	return escaper.Replace(s)
}
