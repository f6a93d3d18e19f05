package render

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const defaultProbeConcurrency = 4

// Result is the outcome of rendering one message.
type Result struct {
	// HTML is the sanitized markup wrapped in a content block. A block
	// whose children leave the rich-text subset collapses to its plain
	// text, which is then wrapped on its own.
	HTML string
	// Markdown is true when the input went through the Markdown path.
	Markdown bool
	Report   Report
}

// Renderer turns untrusted message text into safe markup.
type Renderer struct {
	validator   *URLValidator
	sanitizer   *Sanitizer
	concurrency int
}

// NewRenderer creates a renderer backed by v. concurrency bounds the image
// probes of a single Prepare call; zero picks a default.
func NewRenderer(v *URLValidator, concurrency int) *Renderer {
	if concurrency <= 0 {
		concurrency = defaultProbeConcurrency
	}
	return &Renderer{
		validator:   v,
		sanitizer:   NewSanitizer(v),
		concurrency: concurrency,
	}
}

// Validator returns the URL validator shared by the pipeline.
func (r *Renderer) Validator() *URLValidator {
	return r.validator
}

// Sanitizer returns the sanitizer shared by the pipeline.
func (r *Renderer) Sanitizer() *Sanitizer {
	return r.sanitizer
}

// Render runs raw through the pipeline. Text carrying markup is sanitized
// directly; anything else is escaped, converted from Markdown and then
// sanitized. Render is synchronous: images without a cached verdict are
// left out and listed in the report.
func (r *Renderer) Render(raw string) Result {
	markdown := !HasMarkup(raw)
	input := raw
	if markdown {
		input = RenderMarkdown(Escape(raw))
	}

	body, rep := r.sanitizer.SanitizeReport(input)
	if rep.FailedClosed {
		// body is escaped text; wrapping keeps the output shape uniform.
		return Result{HTML: `<div ` + contentBlockAttr + `="">` + body + `</div>`, Markdown: markdown, Report: rep}
	}
	return Result{
		HTML:     r.sanitizer.wrapContentBlock(body, &rep),
		Markdown: markdown,
		Report:   rep,
	}
}

// Prepare probes every image source referenced by raw so that a following
// Render keeps the images that turn out to be safe. It returns early when
// ctx is cancelled.
func (r *Renderer) Prepare(ctx context.Context, raw string) error {
	if !HasMarkup(raw) {
		return nil
	}

	var pending []string
	for _, src := range imageSources(raw) {
		if _, known := r.validator.Cached(src); known {
			continue
		}
		if r.validator.StaticallySafe(src, ImageSource) {
			pending = append(pending, src)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, src := range pending {
		g.Go(func() error {
			r.validator.IsSafeURL(gctx, src, ImageSource)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RenderPrepared is Prepare followed by Render.
func (r *Renderer) RenderPrepared(ctx context.Context, raw string) (Result, error) {
	if err := r.Prepare(ctx, raw); err != nil {
		return Result{}, err
	}
	return r.Render(raw), nil
}

// imageSources returns the distinct img src values of a fragment.
func imageSources(markup string) []string {
	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext())
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var srcs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "img") && n.Namespace == "" {
			if src, ok := getAttr(n, "src"); ok && !seen[src] {
				seen[src] = true
				srcs = append(srcs, src)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return srcs
}
