package render

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRendererRender(t *testing.T) {
	v := newTestValidator(t, nil)
	r := NewRenderer(v, 0)

	tests := []struct {
		name         string
		input        string
		want         string
		wantMarkdown bool
	}{
		{
			name:         "plain text",
			input:        "hello",
			want:         `<div data-content-block="">hello</div>`,
			wantMarkdown: true,
		},
		{
			name:         "markdown bold with literal angle",
			input:        "**hi** <3",
			want:         `<div data-content-block=""><strong>hi</strong> &lt;3</div>`,
			wantMarkdown: true,
		},
		{
			name:         "markdown link",
			input:        "see [docs](https://example.com/a)",
			want:         `<div data-content-block="">see <a href="https://example.com/a" rel="nofollow noopener noreferrer">docs</a></div>`,
			wantMarkdown: true,
		},
		{
			name:         "markdown javascript link",
			input:        "[x](javascript:alert(1))",
			want:         `<div data-content-block="">x)</div>`,
			wantMarkdown: true,
		},
		{
			name:         "markdown heading and newline",
			input:        "# Title\nbody",
			want:         `<div data-content-block=""><h1>Title</h1><br/>body</div>`,
			wantMarkdown: true,
		},
		{
			name:         "html skips markdown",
			input:        "<b>bold</b> and **stars**",
			want:         `<div data-content-block=""><b>bold</b> and **stars**</div>`,
			wantMarkdown: false,
		},
		{
			name:         "html script removed",
			input:        "<p>hi</p><script>alert(1)</script>",
			want:         `<div data-content-block=""><p>hi</p></div>`,
			wantMarkdown: false,
		},
		{
			name:         "table collapses in content block",
			input:        "<table><tr><td>cell</td></tr></table>",
			want:         `<div data-content-block="">cell</div>`,
			wantMarkdown: false,
		},
		{
			name:         "escaped markup in markdown path",
			input:        "a & b \"quoted\"",
			want:         `<div data-content-block="">a &amp; b &#34;quoted&#34;</div>`,
			wantMarkdown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Render(tt.input)
			if diff := cmp.Diff(tt.want, got.HTML); diff != "" {
				t.Errorf("Render(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
			if got.Markdown != tt.wantMarkdown {
				t.Errorf("Markdown = %v, want %v", got.Markdown, tt.wantMarkdown)
			}
		})
	}
}

func TestRendererFailsClosed(t *testing.T) {
	// Without a validator the sanitizer panics on the first URL it checks.
	r := NewRenderer(nil, 0)

	got := r.Render(`<a href="https://x.example/">y</a><script>z</script>`)
	want := `<div data-content-block="">&lt;a href=&quot;https://x.example/&quot;&gt;y&lt;/a&gt;&lt;script&gt;z&lt;/script&gt;</div>`
	if diff := cmp.Diff(want, got.HTML); diff != "" {
		t.Errorf("HTML mismatch (-want +got):\n%s", diff)
	}
	if !got.Report.FailedClosed || got.Markdown {
		t.Errorf("Result = %+v, want FailedClosed without markdown", got)
	}
}

func TestRendererOutputIsStable(t *testing.T) {
	v := newTestValidator(t, nil)
	r := NewRenderer(v, 0)

	for _, input := range []string{
		"**hi** [a](https://example.com)",
		"<p onclick=x>hi</p>",
		"<div data-content-block><b>nested</b></div>",
		"<table><tr><td>a &amp; b</td></tr></table>",
	} {
		out := r.Render(input).HTML
		again, rep := r.Sanitizer().SanitizeReport(out)
		if again != out {
			t.Errorf("re-sanitizing %q changed it:\n%q\n%q", input, out, again)
		}
		if rep.Removed != 0 {
			t.Errorf("re-sanitizing %q removed %d items", input, rep.Removed)
		}
	}
}

func TestRendererPrepareEnablesImages(t *testing.T) {
	prober := newFakeProber(map[string]string{
		testImage:                         "image/png",
		"https://img.example.com/bad.png": "text/html",
	})
	v := newTestValidator(t, prober)
	r := NewRenderer(v, 2)

	input := `<p>pics</p><img src="` + testImage + `"><img src="https://img.example.com/bad.png"><img src="` + testImage + `">`

	before := r.Render(input)
	if len(before.Report.PendingImages) != 2 {
		t.Fatalf("PendingImages before Prepare = %v, want 2 entries", before.Report.PendingImages)
	}

	if err := r.Prepare(context.Background(), input); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	after := r.Render(input)
	want := `<div data-content-block=""><p>pics</p>` + decoratedImage + decoratedImage + `</div>`
	if diff := cmp.Diff(want, after.HTML); diff != "" {
		t.Errorf("Render after Prepare mismatch (-want +got):\n%s", diff)
	}
	if len(after.Report.PendingImages) != 0 {
		t.Errorf("PendingImages after Prepare = %v, want none", after.Report.PendingImages)
	}
	if got := prober.count(testImage); got != 1 {
		t.Errorf("probes of %s = %d, want 1", testImage, got)
	}

	// Everything is cached now.
	if err := r.Prepare(context.Background(), input); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if got := prober.count(testImage); got != 1 {
		t.Errorf("probes after second Prepare = %d, want 1", got)
	}
}

func TestRendererPrepareCancelled(t *testing.T) {
	prober := newFakeProber(map[string]string{testImage: "image/png"})
	prober.gate = make(chan struct{})
	defer close(prober.gate)
	r := NewRenderer(newTestValidator(t, prober), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Prepare(ctx, `<img src="`+testImage+`">`); err == nil {
		t.Error("Prepare with cancelled context returned nil")
	}
}

func TestRendererPreparePlainTextIsNoop(t *testing.T) {
	prober := newFakeProber(nil)
	r := NewRenderer(newTestValidator(t, prober), 0)

	if err := r.Prepare(context.Background(), "just text ![x](https://img.example.com/a.png)"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := prober.count("https://img.example.com/a.png"); got != 0 {
		t.Errorf("probes = %d, want 0", got)
	}
}
