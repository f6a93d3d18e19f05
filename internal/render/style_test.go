package render

import "testing"

func TestIsSafeStyle(t *testing.T) {
	tests := []struct {
		name  string
		block string
		want  bool
	}{
		{"single color", "color: red", true},
		{"several allowed", "color:#fff; font-weight:bold; text-align:center;", true},
		{"uppercase property", "COLOR: red", true},
		{"empty block", "", false},
		{"only separators", " ; ; ", false},
		{"missing value", "color:", false},
		{"missing colon", "color red", false},
		{"unknown property", "cursor: pointer", false},
		{"position", "color:red; position:absolute", false},
		{"z-index", "z-index: 9999", false},
		{"opacity", "opacity: 0", false},
		{"transform", "transform: scale(10)", false},
		{"expression", "color: expression(alert(1))", false},
		{"url", "background-color: url (x)", false},
		{"import", "color: @import 'x'", false},
		{"javascript", "color: javascript:alert(1)", false},
		{"behavior", "color: behavior", false},
		{"escape sequence", `color: \72 ed`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSafeStyle(tt.block); got != tt.want {
				t.Errorf("IsSafeStyle(%q) = %v, want %v", tt.block, got, tt.want)
			}
		})
	}
}

func TestFilterStyle(t *testing.T) {
	tests := []struct {
		name   string
		block  string
		want   string
		wantOK bool
	}{
		{"keeps safe", "color: red", "color:red", true},
		{"strips layout", "color:red;position:fixed;top:0;z-index:10", "color:red", true},
		{"strips unsafe value", "color:red;background-color:url(x)", "color:red", true},
		{"nothing left", "position:absolute;opacity:0", "", false},
		{"malformed parts skipped", "color;font-size:12px", "font-size:12px", true},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FilterStyle(tt.block)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("FilterStyle(%q) = (%q, %v), want (%q, %v)", tt.block, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMergeStyle(t *testing.T) {
	decls := filterDeclarations("color:red;max-width:10px")
	got := formatStyle(mergeStyle(decls, imageDisplayStyle))
	want := "color:red;max-width:100%;max-height:300px;border-radius:8px"
	if got != want {
		t.Errorf("mergeStyle = %q, want %q", got, want)
	}
}
