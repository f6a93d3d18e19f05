package sanitize

import (
	"testing"
)

func TestStripControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple text",
			input:    "hello world",
			expected: "hello world",
		},
		{
			name:     "newline tab and carriage return kept",
			input:    "a\nb\tc\r\n",
			expected: "a\nb\tc\r\n",
		},
		{
			name:     "null and bell removed",
			input:    "a\x00b\x07c",
			expected: "abc",
		},
		{
			name:     "escape sequence removed",
			input:    "\x1b[31mred\x1b[0m",
			expected: "[31mred[0m",
		},
		{
			name:     "c1 controls removed",
			input:    "a\u0085b\u009bc",
			expected: "abc",
		},
		{
			name:     "bidi override removed",
			input:    "file\u202egnp.exe",
			expected: "filegnp.exe",
		},
		{
			name:     "unicode kept",
			input:    "привет 👋",
			expected: "привет 👋",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripControlChars(tt.input); got != tt.expected {
				t.Errorf("StripControlChars(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		suffix   string
		expected string
	}{
		{"short", "hello", 10, "...", "hello"},
		{"exact", "hello", 5, "...", "hello"},
		{"cut with suffix", "hello world", 8, "...", "hello..."},
		{"cut without suffix", "hello world", 5, "", "hello"},
		{"runes not bytes", "привет мир", 6, "", "привет"},
		{"suffix longer than n", "hello", 2, "...", "he"},
		{"zero", "hello", 0, "...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.n, tt.suffix); got != tt.expected {
				t.Errorf("Truncate(%q, %d, %q) = %q, want %q", tt.input, tt.n, tt.suffix, got, tt.expected)
			}
		})
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"collapses whitespace", "  Anon \n\t Chat  ", 50, "Anon Chat"},
		{"caps length", "abcdefghij", 4, "abcd"},
		{"strips controls", "a\x00b", 10, "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.input, tt.max); got != tt.expected {
				t.Errorf("Text(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.expected)
			}
		})
	}
}
