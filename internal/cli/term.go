package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"anonchat/internal/chat"
)

var (
	timeStyle      = lipgloss.NewStyle().Faint(true)
	markerStyle    = lipgloss.NewStyle().Italic(true).Faint(true)
	separatorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#45B7D1"))
	replyStyle     = lipgloss.NewStyle().Faint(true).PaddingLeft(2)
)

// terminalPrinter turns sanitized markup into styled terminal output.
type terminalPrinter struct {
	out      io.Writer
	convert  *md.Converter
	glamour  *glamour.TermRenderer
	lastDay  string
	location *time.Location
}

// newTerminalPrinter creates a printer. style is a glamour style name, or
// "auto" to follow the terminal background.
func newTerminalPrinter(out io.Writer, style string, width int) (*terminalPrinter, error) {
	styleOpt := glamour.WithStandardStyle(style)
	if style == "" || style == "auto" {
		styleOpt = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal renderer: %w", err)
	}
	return &terminalPrinter{
		out:      out,
		convert:  md.NewConverter("", true, nil),
		glamour:  r,
		location: time.Local,
	}, nil
}

// markdown converts sanitized markup back to Markdown.
func (p *terminalPrinter) markdown(markup string) (string, error) {
	text, err := p.convert.ConvertString(markup)
	if err != nil {
		return "", fmt.Errorf("convert markup: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// body renders sanitized markup for the terminal.
func (p *terminalPrinter) body(markup string) (string, error) {
	text, err := p.markdown(markup)
	if err != nil {
		return "", err
	}
	out, err := p.glamour.Render(text)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}

func (p *terminalPrinter) header(e chat.Entry) string {
	name := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(e.Color)).Render(e.Nickname)
	parts := []string{name, timeStyle.Render(e.Time().In(p.location).Format("15:04"))}
	if e.Edited {
		parts = append(parts, markerStyle.Render("(edited)"))
	}
	if e.Pinned {
		parts = append(parts, markerStyle.Render("(pinned)"))
	}
	return strings.Join(parts, " ")
}

// printEntry writes one message, preceded by a day separator when the day
// changes. markup must already be sanitized.
func (p *terminalPrinter) printEntry(e chat.Entry, markup string, now time.Time) error {
	if day := chat.DayLabel(e.Time(), now.In(p.location)); day != p.lastDay {
		p.lastDay = day
		fmt.Fprintln(p.out, separatorStyle.Render("── "+day+" ──"))
	}

	body, err := p.body(markup)
	if err != nil {
		return err
	}
	fmt.Fprintln(p.out, p.header(e))
	if e.ReplyText != "" {
		fmt.Fprintln(p.out, replyStyle.Render("↳ "+e.ReplyText))
	}
	fmt.Fprintln(p.out, body)
	return nil
}
