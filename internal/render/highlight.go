package render

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const highlightClass = "highlight"

// Highlight wraps every case-insensitive occurrence of term found in the
// text of markup in <span class="highlight">. Only text nodes are searched,
// so tags and attribute values are never matched. The bool reports whether
// anything matched.
func Highlight(markup, term string) (string, bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		return markup, false
	}

	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext())
	if err != nil {
		return markup, false
	}
	pattern := regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))

	// A detached container gives top-level text nodes a parent to split in.
	container := fragmentContext()
	for _, n := range nodes {
		container.AppendChild(n)
	}
	if !highlightNode(container, pattern) {
		return markup, false
	}

	var children []*html.Node
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	for _, c := range children {
		container.RemoveChild(c)
	}
	out, err := renderNodes(children)
	if err != nil {
		return markup, false
	}
	return out, true
}

func highlightNode(n *html.Node, pattern *regexp.Regexp) bool {
	if n.Type == html.TextNode {
		return splitTextNode(n, pattern)
	}

	matched := false
	// Collect first: splitting inserts siblings.
	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	for _, c := range children {
		if highlightNode(c, pattern) {
			matched = true
		}
	}
	return matched
}

func splitTextNode(n *html.Node, pattern *regexp.Regexp) bool {
	locs := pattern.FindAllStringIndex(n.Data, -1)
	if len(locs) == 0 {
		return false
	}
	text := n.Data
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			n.Parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[prev:loc[0]]}, n)
		}
		mark := &html.Node{
			Type:     html.ElementNode,
			Data:     "span",
			DataAtom: atom.Span,
			Attr:     []html.Attribute{{Key: "class", Val: highlightClass}},
		}
		mark.AppendChild(&html.Node{Type: html.TextNode, Data: text[loc[0]:loc[1]]})
		n.Parent.InsertBefore(mark, n)
		prev = loc[1]
	}
	n.Data = text[prev:]
	if n.Data == "" {
		n.Parent.RemoveChild(n)
	}
	return true
}

// PlainText returns the visible text of a markup fragment.
func PlainText(markup string) string {
	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext())
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(visibleText(n))
	}
	return b.String()
}
