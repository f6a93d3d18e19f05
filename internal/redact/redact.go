package redact

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// maxURLLen bounds how much of a URL reaches the logs.
const maxURLLen = 96

var (
	// Identities: device digits, underscore, color hex.
	// Keep the first 4 digits so log lines stay correlatable.
	identityPattern = regexp.MustCompile(`\b(\d{4})\d{4,28}_([0-9A-Fa-f]{6})\b`)

	// Bearer tokens
	bearerPattern = regexp.MustCompile(`\bBearer\s+[a-zA-Z0-9_\-\.]+`)

	// Link gate and idempotency tokens in query strings
	tokenParamPattern = regexp.MustCompile(`\b(token|key)=[^&\s]+`)

	// Generic long hex/base64 strings that look like secrets
	secretPattern = regexp.MustCompile(`([a-fA-F0-9]{32,}|[a-zA-Z0-9+/]{32,}={0,2})`)
)

// Redact masks identities and secrets in a free-form string.
func Redact(s string) string {
	s = identityPattern.ReplaceAllString(s, "$1***_$2")

	s = bearerPattern.ReplaceAllStringFunc(s, func(match string) string {
		return "Bearer ***"
	})

	s = tokenParamPattern.ReplaceAllString(s, "$1=***")

	s = secretPattern.ReplaceAllStringFunc(s, func(match string) string {
		isHex := true
		for _, c := range match {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				isHex = false
				break
			}
		}
		isBase64 := strings.ContainsAny(match, "+/=")

		if isHex || isBase64 {
			return match[:6] + "***"
		}
		return match
	})

	return s
}

// Identity masks the device part of a chat identity.
func Identity(id string) string {
	device, color, ok := strings.Cut(id, "_")
	if !ok || len(device) <= 4 {
		return "***"
	}
	return device[:4] + "***_" + color
}

// URL returns raw with credentials, query values and fragment masked and
// the result truncated, for logging untrusted URLs.
func URL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Sprintf("[invalid url, %d bytes]", len(raw))
	}

	if u.User != nil {
		u.User = url.User("***")
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q[k] = []string{"***"}
		}
		u.RawQuery = q.Encode()
	}
	if u.Fragment != "" {
		u.Fragment = "***"
	}

	s := u.String()
	if len(s) > maxURLLen {
		s = s[:maxURLLen] + "..."
	}
	return s
}
