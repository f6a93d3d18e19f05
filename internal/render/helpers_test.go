package render

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeProber struct {
	mu    sync.Mutex
	calls map[string]int
	types map[string]string
	gate  chan struct{}
}

func newFakeProber(types map[string]string) *fakeProber {
	return &fakeProber{calls: make(map[string]int), types: types}
}

func (p *fakeProber) ContentType(ctx context.Context, rawURL string) (string, error) {
	p.mu.Lock()
	p.calls[rawURL]++
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ct, ok := p.types[rawURL]
	if !ok {
		return "", errors.New("HTTP 404: 404 Not Found")
	}
	return ct, nil
}

func (p *fakeProber) count(rawURL string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[rawURL]
}

func newTestValidator(t *testing.T, prober ImageProber) *URLValidator {
	t.Helper()
	v, err := NewURLValidator(ValidatorOptions{
		BaseURL: "https://chat.example.com/",
		Prober:  prober,
	})
	if err != nil {
		t.Fatalf("NewURLValidator: %v", err)
	}
	return v
}
