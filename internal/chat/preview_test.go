package chat

import (
	"testing"
	"time"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		n      int
		want   string
	}{
		{"tags stripped", `<div data-content-block=""><strong>hi</strong> there</div>`, 50, "hi there"},
		{"entities decoded", `<p>a &amp; b &lt;3</p>`, 50, "a & b <3"},
		{"truncated", `<p>abcdefghij</p>`, 4, "abcd"},
		{"whitespace collapsed", "<p>a\n\n   b</p>", 50, "a b"},
		{"script content dropped", `<script>alert(1)</script>ok`, 50, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.markup, tt.n); got != tt.want {
				t.Errorf("Preview(%q) = %q, want %q", tt.markup, got, tt.want)
			}
		})
	}
}

func TestDayLabel(t *testing.T) {
	loc := time.FixedZone("test", 3*3600)
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, loc)

	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{"same day", time.Date(2026, 3, 10, 0, 1, 0, 0, loc), "Today"},
		{"previous day", time.Date(2026, 3, 9, 23, 59, 0, 0, loc), "Yesterday"},
		{"previous day start", time.Date(2026, 3, 9, 0, 0, 0, 0, loc), "Yesterday"},
		{"two days ago", time.Date(2026, 3, 8, 23, 59, 0, 0, loc), "2026-03-08"},
		{"utc instant mapped to local day", time.Date(2026, 3, 9, 21, 30, 0, 0, time.UTC), "Today"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayLabel(tt.ts, now); got != tt.want {
				t.Errorf("DayLabel = %q, want %q", got, tt.want)
			}
		})
	}
}
