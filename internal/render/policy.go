package render

import "strings"

// Tags that may survive sanitization.
var allowedTags = setOf(
	"p", "b", "i", "u", "em", "strong", "span", "div", "br", "pre", "code",
	"a", "img", "ul", "ol", "li", "blockquote", "h1", "h2",
	"table", "thead", "tbody", "tfoot", "tr", "td", "th",
)

// Tags removed together with everything inside them.
var droppedTags = setOf(
	"script", "iframe", "frame", "frameset", "object", "embed", "link", "meta",
	"style", "base", "title", "template", "noscript", "noembed", "noframes",
	"svg", "math", "form", "input", "textarea", "select", "button", "applet",
)

// Direct children allowed inside a content block.
var richTextTags = setOf(
	"p", "br", "b", "i", "u", "em", "strong", "span", "code", "pre",
	"a", "img", "ul", "ol", "li", "blockquote", "h1", "h2",
)

var allowedAttrs = setOf("href", "src", "alt", "title", "class", "style", "rel", "loading")

var allowedStyleProps = setOf(
	"color", "background-color", "font-size", "font-weight", "font-style",
	"text-align", "text-decoration", "margin", "padding",
	"max-width", "max-height", "border-radius",
)

// Layout and compositing properties that allow UI redressing. They are
// stripped everywhere, whatever the allow-list says.
var blockedStyleProps = setOf("position", "z-index", "opacity", "transform")

var imageExtensions = setOf(".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".avif")

var loadingValues = setOf("lazy", "eager")

const (
	// contentBlockAttr marks a div as a rendered-content wrapper.
	contentBlockAttr = "data-content-block"

	// reservedDataPrefix is owned by the link interceptor; user markup
	// carrying it is stripped so it cannot fake an intercepted anchor.
	reservedDataPrefix = "data-chat-"

	anchorRel = "nofollow noopener noreferrer"

	defaultImageAlt = "image"
)

// imageDisplayStyle is applied to every kept image, in this order.
var imageDisplayStyle = []declaration{
	{prop: "max-width", value: "100%"},
	{prop: "max-height", value: "300px"},
	{prop: "border-radius", value: "8px"},
}

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

func isEventHandlerAttr(name string) bool {
	return strings.HasPrefix(name, "on")
}

func isAllowedAttr(name string) bool {
	if strings.HasPrefix(name, reservedDataPrefix) {
		return false
	}
	return allowedAttrs[name] || strings.HasPrefix(name, "data-")
}
