package chat

import (
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"anonchat/internal/sanitize"
)

// PreviewLength bounds pinned and reply previews, in runes.
const PreviewLength = 50

var previewPolicy = bluemonday.StrictPolicy()

// Preview reduces stored markup to a single line of plain text of at most
// n runes. The result is not escaped.
func Preview(markup string, n int) string {
	text := html.UnescapeString(previewPolicy.Sanitize(markup))
	return strings.TrimSpace(sanitize.Text(text, n))
}

// DayLabel names the day of ts relative to now: "Today", "Yesterday" or
// the date. Both are compared in now's location.
func DayLabel(ts, now time.Time) string {
	ts = ts.In(now.Location())
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	switch {
	case !ts.Before(today) && ts.Before(today.AddDate(0, 0, 1)):
		return "Today"
	case !ts.Before(today.AddDate(0, 0, -1)) && ts.Before(today):
		return "Yesterday"
	}
	return ts.Format("2006-01-02")
}
