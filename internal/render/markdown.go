package render

import (
	"regexp"

	"anonchat/internal/errorx"
	"anonchat/internal/logger"
)

// htmlOpenTag detects text that already carries markup. Such text is
// handed to the sanitizer as-is and never run through Markdown.
var htmlOpenTag = regexp.MustCompile(`(?i)<[a-z][a-z0-9-]*(\s[^<>]*)?/?>`)

type markdownRule struct {
	pattern *regexp.Regexp
	replace string
}

// Applied in order; each rule sees the output of the previous one.
var markdownRules = []markdownRule{
	{regexp.MustCompile(`(?m)^# ([^\r\n]*)`), "<h1>$1</h1>"},
	{regexp.MustCompile(`(?m)^## ([^\r\n]*)`), "<h2>$1</h2>"},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "<strong>$1</strong>"},
	{regexp.MustCompile(`\*(.+?)\*`), "<em>$1</em>"},
	{regexp.MustCompile(`\[([^\]\n]*)\]\(([^)\s"'<>]*)\)`), `<a href="$2" rel="nofollow">$1</a>`},
	{regexp.MustCompile("`([^`\n]+)`"), "<code>$1</code>"},
	{regexp.MustCompile(`\r?\n`), "<br>"},
}

// HasMarkup reports whether text contains an HTML open tag.
func HasMarkup(text string) bool {
	return htmlOpenTag.MatchString(text)
}

// RenderMarkdown converts the supported Markdown subset to HTML. Text that
// already contains markup is returned unchanged, as is unmatched syntax.
// The output is not safe on its own and must be sanitized.
func RenderMarkdown(text string) string {
	if HasMarkup(text) {
		return text
	}

	out := text
	err := errorx.HandleWithRecovery(func() error {
		for _, rule := range markdownRules {
			out = rule.pattern.ReplaceAllString(out, rule.replace)
		}
		return nil
	})
	if err != nil {
		logger.Debugf("render: markdown failed, passing text through: %v", err)
		return text
	}
	return out
}
