package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"anonchat/internal/app"
	"anonchat/internal/chat"
	"anonchat/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoragePath = filepath.Join(dir, "anonchat.db")
	cfg.IdentityPath = filepath.Join(dir, "identity")
	cfg.LogLevel = "error"
	return cfg
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, cfg *config.Config, application *app.App, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand(cfg, application)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRenderCommand(t *testing.T) {
	cfg := testConfig(t)
	application := app.New(cfg)

	tests := []struct {
		name  string
		args  []string
		stdin string
		want  []string
		not   []string
	}{
		{
			name: "markdown argument",
			args: []string{"render", "--offline", "**bold** and *it*"},
			want: []string{"<strong>bold</strong>", "<em>it</em>"},
		},
		{
			name:  "html from stdin",
			args:  []string{"render", "--offline"},
			stdin: `<b onclick="steal()">hi</b><script>alert(1)</script>`,
			want:  []string{"<b>hi</b>"},
			not:   []string{"onclick", "<script"},
		},
		{
			name: "intercepted links",
			args: []string{"render", "--offline", "--intercept", "[x](https://example.com/a)"},
			want: []string{`href="/leave?to=https%3A%2F%2Fexample.com%2Fa"`},
		},
		{
			name: "markdown output",
			args: []string{"render", "--offline", "-f", "markdown", "[x](https://example.com/a)"},
			want: []string{"[x](https://example.com/a)"},
			not:  []string{"<a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := run(t, cfg, application, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q missing %q", out, w)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(out, n) {
					t.Errorf("output %q contains %q", out, n)
				}
			}
		})
	}

	if _, _, err := run(t, cfg, application, "", "render", "-f", "pdf", "hi"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestRenderReport(t *testing.T) {
	cfg := testConfig(t)
	_, stderr, err := run(t, cfg, app.New(cfg), "", "render", "--offline", "--report", `<img src="https://example.com/a.png"><u>x</u>`)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"markdown input: false", "removed: "} {
		if !strings.Contains(stderr, want) {
			t.Errorf("report %q missing %q", stderr, want)
		}
	}
	if strings.Contains(stderr, "failed closed") {
		t.Errorf("report = %q", stderr)
	}
}

func TestSendAndTail(t *testing.T) {
	cfg := testConfig(t)
	application := app.New(cfg)
	t.Cleanup(func() { application.Close() })

	key, _, err := run(t, cfg, application, "", "send", "hello **terminal**")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		t.Fatal("send printed no key")
	}
	if _, err := os.Stat(cfg.IdentityPath); err != nil {
		t.Errorf("identity not persisted: %v", err)
	}

	if _, _, err := run(t, cfg, application, "a reply", "send", "--reply-to", key, "-"); err != nil {
		t.Fatalf("send reply: %v", err)
	}
	if _, _, err := run(t, cfg, application, "", "send", "   "); err == nil {
		t.Error("empty message accepted")
	}

	out, _, err := run(t, cfg, application, "", "tail", "--style", "notty")
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	for _, want := range []string{"Today", "hello", "terminal", "a reply", "↳ hello terminal"} {
		if !strings.Contains(out, want) {
			t.Errorf("tail output missing %q:\n%s", want, out)
		}
	}

	out, _, err = run(t, cfg, application, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "messages: 2") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestPrintEntriesSkipsSeen(t *testing.T) {
	cfg := testConfig(t)
	application := app.New(cfg)
	if err := application.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { application.Close() })
	sess, err := participant(cfg, application)
	if err != nil {
		t.Fatalf("participant: %v", err)
	}

	var buf bytes.Buffer
	p, err := newTerminalPrinter(&buf, "notty", 80)
	if err != nil {
		t.Fatal(err)
	}
	e := chat.Entry{Key: "-Na", Message: chat.Message{Nickname: "anon", Color: "#FF6B6B", Text: "<p>one</p>", Timestamp: time.Now().UnixMilli()}}
	seen := map[string]int64{}

	ctx := context.Background()
	if err := printEntries(ctx, p, sess, []chat.Entry{e}, seen); err != nil {
		t.Fatal(err)
	}
	first := buf.Len()
	if err := printEntries(ctx, p, sess, []chat.Entry{e}, seen); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != first {
		t.Error("unchanged entry printed twice")
	}

	e.Timestamp++
	e.Edited = true
	if err := printEntries(ctx, p, sess, []chat.Entry{e}, seen); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String()[first:], "(edited)") {
		t.Errorf("edited entry not printed again: %q", buf.String()[first:])
	}
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"yes", true},
		{"n\n", false},
		{"\n", false},
		{"sure\n", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		c := newPromptConfirmer(strings.NewReader(tt.input), &out)
		got, err := c.Confirm(context.Background(), "https://example.com/")
		if err != nil {
			t.Errorf("Confirm(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "https://example.com/") {
			t.Errorf("prompt %q does not show the target", out.String())
		}
	}

	c := newPromptConfirmer(strings.NewReader(""), &bytes.Buffer{})
	if _, err := c.Confirm(context.Background(), "https://example.com/"); err == nil {
		t.Error("closed input should fail")
	}
}

func TestOpenCommand(t *testing.T) {
	cfg := testConfig(t)
	application := app.New(cfg)

	out, _, err := run(t, cfg, application, "y\n", "open", "https://example.com/x")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if strings.TrimSpace(out) != "https://example.com/x" {
		t.Errorf("approved target = %q", out)
	}

	out, stderr, err := run(t, cfg, application, "n\n", "open", "https://example.com/x")
	if err != nil || out != "" || !strings.Contains(stderr, "Not opened") {
		t.Errorf("denied open: out=%q stderr=%q err=%v", out, stderr, err)
	}

	if _, _, err := run(t, cfg, application, "y\n", "open", "javascript:alert(1)"); err == nil {
		t.Error("unsafe link opened")
	}
}

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(*config.Config) bool
	}{
		{"server.addr", ":9090", false, func(c *config.Config) bool { return c.Server.Addr == ":9090" }},
		{"chat.max_length", "500", false, func(c *config.Config) bool { return c.Chat.MaxLength == 500 }},
		{"chat.max_length", "many", true, nil},
		{"server.secure_cookies", "true", false, func(c *config.Config) bool { return c.Server.SecureCookies }},
		{"log_level", "debug", false, func(c *config.Config) bool { return c.LogLevel == "debug" }},
		{"telegram.token", "x", true, nil},
	}

	for _, tt := range tests {
		cfg := config.Default()
		err := setConfigValue(cfg, tt.key, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("setConfigValue(%s, %s) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			continue
		}
		if tt.check != nil && !tt.check(cfg) {
			t.Errorf("setConfigValue(%s, %s) not applied", tt.key, tt.value)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, _, err := run(t, cfg, app.New(cfg), "", "config", "init", "--path", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, _, err := run(t, cfg, app.New(cfg), "", "config", "init", "--path", path); err == nil {
		t.Error("config init overwrote an existing file")
	}

	loaded, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("initial config invalid: %v", err)
	}
	if diff := cmp.Diff(config.Default().Server, loaded.Server, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("initial server config differs from defaults (-want +got):\n%s", diff)
	}

	out, _, err := run(t, loaded, app.New(loaded), "", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"# " + path, "public_url: http://localhost:8080/", "rate_window: 1m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestWriteServiceFile(t *testing.T) {
	svc := &serviceConfig{
		BinaryPath: "/usr/local/bin/anonchat",
		HomeDir:    "/home/anon",
		LogPath:    "/home/anon/.local/state/anonchat",
		Env:        map[string]string{"ANONCHAT_SERVER_ADDR": ":8080"},
	}

	var buf bytes.Buffer
	if err := writeServiceFile(&buf, "linux", svc); err != nil {
		t.Fatalf("writeServiceFile: %v", err)
	}
	for _, want := range []string{
		"ExecStart=/usr/local/bin/anonchat serve",
		`Environment="ANONCHAT_SERVER_ADDR=:8080"`,
		"WorkingDirectory=/home/anon",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("unit missing %q:\n%s", want, buf.String())
		}
	}

	if err := writeServiceFile(&buf, "plan9", svc); err == nil {
		t.Error("unsupported OS accepted")
	}
}
