package render

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"anonchat/internal/logger"
	"anonchat/internal/redact"
)

// URLKind selects the rule set a URL is validated against.
type URLKind int

const (
	// Navigation is an anchor target.
	Navigation URLKind = iota
	// ImageSource is the src of an img element.
	ImageSource
)

func (k URLKind) String() string {
	switch k {
	case Navigation:
		return "navigation"
	case ImageSource:
		return "image"
	default:
		return "unknown"
	}
}

// ErrUnsafeURL is returned by operations that refuse a URL outright.
var ErrUnsafeURL = errors.New("unsafe url")

// DefaultMaxURLLength bounds every URL the validator accepts.
const DefaultMaxURLLength = 200

var dangerousScheme = regexp.MustCompile(`^(javascript|vbscript|data):`)

var navigationSchemes = setOf("http", "https", "mailto", "tel")

var imageSchemes = setOf("http", "https")

// ValidatorOptions configure a URLValidator.
type ValidatorOptions struct {
	// BaseURL resolves relative references. Defaults to http://localhost/.
	BaseURL string
	// MaxURLLength defaults to DefaultMaxURLLength.
	MaxURLLength int
	// Prober answers image HEAD requests. A nil prober refuses every image.
	Prober ImageProber
	// Cache holds image verdicts. A fresh cache is created when nil.
	Cache *VerdictCache
	// ProbeTimeout bounds a single probe. Defaults to 5s.
	ProbeTimeout time.Duration
}

// URLValidator decides whether a URL may appear in rendered markup.
type URLValidator struct {
	base         *url.URL
	maxLen       int
	prober       ImageProber
	cache        *VerdictCache
	probeTimeout time.Duration
	group        singleflight.Group
}

// NewURLValidator creates a validator from opts.
func NewURLValidator(opts ValidatorOptions) (*URLValidator, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL must be absolute: %q", baseURL)
	}

	v := &URLValidator{
		base:         base,
		maxLen:       opts.MaxURLLength,
		prober:       opts.Prober,
		cache:        opts.Cache,
		probeTimeout: opts.ProbeTimeout,
	}
	if v.maxLen <= 0 {
		v.maxLen = DefaultMaxURLLength
	}
	if v.cache == nil {
		v.cache = NewVerdictCache(time.Hour, 1024)
	}
	if v.probeTimeout <= 0 {
		v.probeTimeout = 5 * time.Second
	}
	return v, nil
}

// IsSafeURL validates raw for the given kind. Image sources are probed over
// the network unless a verdict is cached. Every failure yields false.
func (v *URLValidator) IsSafeURL(ctx context.Context, raw string, kind URLKind) bool {
	resolved, err := v.check(raw, kind)
	if err != nil {
		logger.Debugf("render: %s url %s rejected: %v", kind, redact.URL(raw), err)
		return false
	}
	if kind != ImageSource {
		return true
	}
	if safe, ok := v.cache.Get(raw); ok {
		return safe
	}
	return v.probe(ctx, raw, resolved)
}

// Allowed is the synchronous form of IsSafeURL. It never touches the
// network, so image sources pass only with a cached positive verdict.
func (v *URLValidator) Allowed(raw string, kind URLKind) bool {
	if _, err := v.check(raw, kind); err != nil {
		return false
	}
	if kind != ImageSource {
		return true
	}
	safe, ok := v.cache.Get(raw)
	return ok && safe
}

// Cached returns the stored verdict for an image source.
func (v *URLValidator) Cached(raw string) (safe bool, known bool) {
	return v.cache.Get(raw)
}

// StaticallySafe runs every check except the image probe.
func (v *URLValidator) StaticallySafe(raw string, kind URLKind) bool {
	_, err := v.check(raw, kind)
	return err == nil
}

// Resolve returns the absolute form of a URL that passes the static checks.
func (v *URLValidator) Resolve(raw string, kind URLKind) (string, error) {
	u, err := v.check(raw, kind)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	return u.String(), nil
}

// MaxLength returns the configured URL length ceiling.
func (v *URLValidator) MaxLength() int {
	return v.maxLen
}

func (v *URLValidator) check(raw string, kind URLKind) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("empty")
	}
	if len(raw) > v.maxLen {
		return nil, fmt.Errorf("length %d exceeds %d", len(raw), v.maxLen)
	}
	if dangerousScheme.MatchString(compactURL(raw)) {
		return nil, errors.New("dangerous scheme")
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	resolved := v.base.ResolveReference(u)

	scheme := strings.ToLower(resolved.Scheme)
	switch kind {
	case ImageSource:
		if !imageSchemes[scheme] {
			return nil, fmt.Errorf("scheme %q not allowed", scheme)
		}
		ext := strings.ToLower(path.Ext(resolved.Path))
		if !imageExtensions[ext] {
			return nil, fmt.Errorf("extension %q is not an image", ext)
		}
	default:
		if !navigationSchemes[scheme] {
			return nil, fmt.Errorf("scheme %q not allowed", scheme)
		}
	}
	if (scheme == "http" || scheme == "https") && resolved.Host == "" {
		return nil, errors.New("missing host")
	}
	return resolved, nil
}

func (v *URLValidator) probe(ctx context.Context, raw string, resolved *url.URL) bool {
	if v.prober == nil {
		logger.Debugf("render: no image prober, refusing %s", redact.URL(raw))
		return false
	}

	ch := v.group.DoChan(raw, func() (interface{}, error) {
		if safe, ok := v.cache.Get(raw); ok {
			return safe, nil
		}

		// Detached from the first caller so that its cancellation does not
		// fail the callers sharing this probe.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.probeTimeout)
		defer cancel()

		contentType, err := v.prober.ContentType(pctx, resolved.String())
		if err != nil {
			logger.Debugf("render: probe of %s failed: %v", redact.URL(raw), err)
			v.cache.Put(raw, false)
			return false, nil
		}
		safe := isRasterImage(contentType)
		if !safe {
			logger.Debugf("render: %s served %q, not an image", redact.URL(raw), contentType)
		}
		v.cache.Put(raw, safe)
		return safe, nil
	})

	select {
	case res := <-ch:
		safe, _ := res.Val.(bool)
		return safe
	case <-ctx.Done():
		return false
	}
}

func isRasterImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	mediaType = strings.ToLower(mediaType)
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}

// compactURL lower-cases raw and removes whitespace and control characters,
// which browsers ignore inside a scheme.
func compactURL(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r <= ' ' || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
