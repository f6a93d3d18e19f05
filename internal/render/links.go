package render

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const (
	interceptedAttr = reservedDataPrefix + "intercepted"
	targetHrefAttr  = reservedDataPrefix + "href"
)

// DefaultGatePath is where intercepted anchors send the browser.
const DefaultGatePath = "/leave"

// InterceptLinks routes every anchor under root through the confirmation
// gate at gatePath. Anchors with an unsafe href lose it. Anchors already
// intercepted are skipped, so repeated calls are harmless. It returns the
// number of anchors intercepted by this call.
func InterceptLinks(root *html.Node, v *URLValidator, gatePath string) int {
	if root == nil {
		return 0
	}
	if gatePath == "" {
		gatePath = DefaultGatePath
	}

	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Namespace == "" && strings.EqualFold(n.Data, "a") {
			if interceptAnchor(n, v, gatePath) {
				count++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return count
}

func interceptAnchor(n *html.Node, v *URLValidator, gatePath string) bool {
	if hasAttr(n, interceptedAttr) {
		return false
	}
	href, ok := getAttr(n, "href")
	if !ok {
		return false
	}

	target, err := v.Resolve(href, Navigation)
	if err != nil {
		removeAttr(n, "href")
		return false
	}

	setAttr(n, "href", gatePath+"?to="+url.QueryEscape(target))
	setAttr(n, "target", "_blank")
	setAttr(n, "rel", anchorRel)
	setAttr(n, targetHrefAttr, target)
	setAttr(n, interceptedAttr, "")
	return true
}

// InterceptMarkup is InterceptLinks over a serialized fragment. The markup
// is expected to be sanitized already; a parse failure returns it escaped.
func InterceptMarkup(fragment string, v *URLValidator, gatePath string) (string, int) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), fragmentContext())
	if err != nil {
		return Escape(fragment), 0
	}

	count := 0
	for _, n := range nodes {
		count += InterceptLinks(n, v, gatePath)
	}
	out, err := renderNodes(nodes)
	if err != nil {
		return Escape(fragment), 0
	}
	return out, count
}

// InterceptedTarget returns the destination recorded on an intercepted
// anchor.
func InterceptedTarget(n *html.Node) (string, bool) {
	if !hasAttr(n, interceptedAttr) {
		return "", false
	}
	return getAttr(n, targetHrefAttr)
}
