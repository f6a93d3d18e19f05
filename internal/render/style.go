package render

import (
	"regexp"
	"strings"
)

var unsafeStyleValue = regexp.MustCompile(`(?i)expression|url\s*\(|@?import|javascript\s*:|behavior|-moz-binding|\\|/\*`)

type declaration struct {
	prop  string
	value string
}

// IsSafeStyle reports whether every declaration of an inline style block is
// allowed. Empty and malformed blocks are unsafe.
func IsSafeStyle(block string) bool {
	decls, ok := parseStyle(block)
	if !ok || len(decls) == 0 {
		return false
	}
	for _, d := range decls {
		if !safeDeclaration(d) {
			return false
		}
	}
	return true
}

// FilterStyle drops the unsafe declarations of a style block and returns the
// remaining ones in normalized form. The bool is false when nothing survives.
func FilterStyle(block string) (string, bool) {
	kept := filterDeclarations(block)
	if len(kept) == 0 {
		return "", false
	}
	return formatStyle(kept), true
}

func filterDeclarations(block string) []declaration {
	var kept []declaration
	for _, part := range strings.Split(block, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, ok := parseDeclaration(part)
		if !ok || !safeDeclaration(d) {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

func parseStyle(block string) ([]declaration, bool) {
	var decls []declaration
	for _, part := range strings.Split(block, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, ok := parseDeclaration(part)
		if !ok {
			return nil, false
		}
		decls = append(decls, d)
	}
	return decls, true
}

func parseDeclaration(s string) (declaration, bool) {
	prop, value, found := strings.Cut(s, ":")
	if !found {
		return declaration{}, false
	}
	d := declaration{
		prop:  strings.ToLower(strings.TrimSpace(prop)),
		value: strings.TrimSpace(value),
	}
	if d.prop == "" || d.value == "" {
		return declaration{}, false
	}
	return d, true
}

func safeDeclaration(d declaration) bool {
	if blockedStyleProps[d.prop] || !allowedStyleProps[d.prop] {
		return false
	}
	return !unsafeStyleValue.MatchString(d.value)
}

// mergeStyle sets each override, replacing an existing declaration of the
// same property in place and appending the rest.
func mergeStyle(decls []declaration, overrides []declaration) []declaration {
	out := append([]declaration(nil), decls...)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].prop == o.prop {
				out[i].value = o.value
				replaced = true
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

func formatStyle(decls []declaration) string {
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.prop + ":" + d.value
	}
	return strings.Join(parts, ";")
}
