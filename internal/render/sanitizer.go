package render

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"anonchat/internal/errorx"
	"anonchat/internal/logger"
	"anonchat/internal/redact"
)

// Report describes what a sanitization pass took out.
type Report struct {
	// Removed counts dropped elements, attributes and style declarations.
	Removed int
	// PendingImages lists image sources that passed the static checks but
	// have no probe verdict yet. Their img elements were removed.
	PendingImages []string
	// FailedClosed is set when the input was escaped wholesale after an
	// internal failure.
	FailedClosed bool
}

// Sanitizer enforces the allow-list on HTML fragments. It is safe for
// concurrent use and never performs network I/O.
type Sanitizer struct {
	validator *URLValidator
}

// NewSanitizer creates a sanitizer that validates URLs with v.
func NewSanitizer(v *URLValidator) *Sanitizer {
	return &Sanitizer{validator: v}
}

// Sanitize returns the allowed subset of markup.
func (s *Sanitizer) Sanitize(markup string) string {
	out, _ := s.SanitizeReport(markup)
	return out
}

// SanitizeReport is Sanitize that also reports what was removed. Any
// internal failure yields the fully escaped input.
func (s *Sanitizer) SanitizeReport(markup string) (string, Report) {
	var out string
	var rep Report

	err := errorx.HandleWithRecovery(func() error {
		nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext())
		if err != nil {
			return fmt.Errorf("parse fragment: %w", err)
		}
		w := &walker{validator: s.validator, report: &rep}
		out, err = renderNodes(w.sanitizeNodes(nodes))
		return err
	})
	if err != nil {
		logger.Warnf("render: sanitizer failed closed: %v", err)
		return Escape(markup), Report{FailedClosed: true}
	}
	return out, rep
}

// wrapContentBlock places already sanitized markup inside a content block
// and enforces the rich-text rule on it. A block that breaks the rule keeps
// only its visible text.
func (s *Sanitizer) wrapContentBlock(markup string, rep *Report) string {
	var out string

	err := errorx.HandleWithRecovery(func() error {
		block := &html.Node{
			Type:     html.ElementNode,
			Data:     "div",
			DataAtom: atom.Div,
			Attr:     []html.Attribute{{Key: contentBlockAttr}},
		}
		nodes, err := html.ParseFragment(strings.NewReader(markup), block)
		if err != nil {
			return fmt.Errorf("parse fragment: %w", err)
		}
		for _, n := range nodes {
			block.AppendChild(n)
		}

		if !richTextOnly(block) {
			rep.Removed++
			text := visibleText(block)
			for c := block.FirstChild; c != nil; c = block.FirstChild {
				block.RemoveChild(c)
			}
			block.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		}
		out, err = renderNodes([]*html.Node{block})
		return err
	})
	if err != nil {
		logger.Warnf("render: content block failed closed: %v", err)
		rep.FailedClosed = true
		return Escape(markup)
	}
	return out
}

func fragmentContext() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

func renderNodes(nodes []*html.Node) (string, error) {
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("render node: %w", err)
		}
	}
	return buf.String(), nil
}

type walker struct {
	validator *URLValidator
	report    *Report
}

func (w *walker) sanitizeNodes(nodes []*html.Node) []*html.Node {
	var keep []*html.Node
	for _, n := range nodes {
		if replace, ok := w.sanitize(n); ok {
			keep = append(keep, n)
		} else {
			keep = append(keep, replace...)
		}
	}
	return keep
}

// sanitize cleans n in place. It returns false when n must be cut out,
// together with the parent-less nodes that take its place.
func (w *walker) sanitize(n *html.Node) ([]*html.Node, bool) {
	switch n.Type {
	case html.TextNode:
		return nil, true
	case html.ElementNode:
		return w.sanitizeElement(n)
	default:
		w.report.Removed++
		return nil, false
	}
}

func (w *walker) sanitizeElement(n *html.Node) ([]*html.Node, bool) {
	if n.Namespace != "" {
		w.report.Removed++
		return nil, false
	}

	n.Data = strings.ToLower(n.Data)
	if droppedTags[n.Data] {
		w.report.Removed++
		return nil, false
	}
	if !allowedTags[n.Data] {
		w.report.Removed++
		return textReplacement(n), false
	}

	n.Attr = w.filterAttrs(n)

	switch n.Data {
	case "a":
		if !hasAttr(n, "href") {
			w.report.Removed++
			return w.unwrap(n), false
		}
		setAttr(n, "rel", anchorRel)
	case "img":
		if !hasAttr(n, "src") {
			w.report.Removed++
			return nil, false
		}
		decorateImage(n)
	}

	w.sanitizeChildren(n)

	if n.Data == "div" && hasAttr(n, contentBlockAttr) && !richTextOnly(n) {
		w.report.Removed++
		return textReplacement(n), false
	}
	return nil, true
}

func (w *walker) sanitizeChildren(n *html.Node) {
	replaceChildren := make(map[*html.Node][]*html.Node)
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if replace, ok := w.sanitize(child); !ok {
			replaceChildren[child] = replace
		}
	}
	for child, replace := range replaceChildren {
		for _, r := range replace {
			n.InsertBefore(r, child)
		}
		n.RemoveChild(child)
	}
}

func (w *walker) unwrap(n *html.Node) []*html.Node {
	var children []*html.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		children = append(children, child)
	}
	for _, child := range children {
		n.RemoveChild(child)
	}
	return w.sanitizeNodes(children)
}

func (w *walker) filterAttrs(n *html.Node) []html.Attribute {
	keep := make([]html.Attribute, 0, len(n.Attr))
	seen := make(map[string]bool, len(n.Attr))

	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if attr.Namespace != "" || seen[key] {
			w.report.Removed++
			continue
		}
		seen[key] = true

		if isEventHandlerAttr(key) || !isAllowedAttr(key) {
			w.report.Removed++
			continue
		}

		val, ok := w.filterAttrValue(n.Data, key, attr.Val)
		if !ok {
			continue
		}
		keep = append(keep, html.Attribute{Key: key, Val: val})
	}
	return keep
}

// filterAttrValue validates one allowed attribute. Removals are counted here.
func (w *walker) filterAttrValue(tag, key, val string) (string, bool) {
	switch key {
	case "href":
		if tag != "a" || !w.validator.Allowed(val, Navigation) {
			logger.Debugf("render: dropped href %s on <%s>", redact.URL(val), tag)
			w.report.Removed++
			return "", false
		}
	case "src":
		if tag != "img" {
			w.report.Removed++
			return "", false
		}
		if !w.validator.Allowed(val, ImageSource) {
			if _, known := w.validator.Cached(val); !known && w.validator.StaticallySafe(val, ImageSource) &&
				!slices.Contains(w.report.PendingImages, val) {
				w.report.PendingImages = append(w.report.PendingImages, val)
			}
			logger.Debugf("render: dropped img src %s", redact.URL(val))
			w.report.Removed++
			return "", false
		}
	case "style":
		kept := filterDeclarations(val)
		w.report.Removed += countDeclarations(val) - len(kept)
		if len(kept) == 0 {
			if strings.TrimSpace(val) == "" {
				w.report.Removed++
			}
			return "", false
		}
		return formatStyle(kept), true
	case "loading":
		lower := strings.ToLower(strings.TrimSpace(val))
		if !loadingValues[lower] {
			w.report.Removed++
			return "", false
		}
		return lower, true
	}
	return val, true
}

func countDeclarations(block string) int {
	count := 0
	for _, part := range strings.Split(block, ";") {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}

func decorateImage(n *html.Node) {
	if !hasAttr(n, "alt") {
		setAttr(n, "alt", defaultImageAlt)
	}
	if !hasAttr(n, "loading") {
		setAttr(n, "loading", "lazy")
	}
	var decls []declaration
	if style, ok := getAttr(n, "style"); ok {
		decls = filterDeclarations(style)
	}
	setAttr(n, "style", formatStyle(mergeStyle(decls, imageDisplayStyle)))
}

// richTextOnly reports whether every direct element child of n belongs to
// the rich-text subset.
func richTextOnly(n *html.Node) bool {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && !richTextTags[strings.ToLower(child.Data)] {
			return false
		}
	}
	return true
}

func textReplacement(n *html.Node) []*html.Node {
	text := visibleText(n)
	if text == "" {
		return nil
	}
	return []*html.Node{{Type: html.TextNode, Data: text}}
}

// visibleText concatenates the text of n, skipping subtrees that are
// dropped with their content.
func visibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Namespace != "" || droppedTags[strings.ToLower(n.Data)] {
				return
			}
		case html.CommentNode, html.DoctypeNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := getAttr(n, key)
	return ok
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}
