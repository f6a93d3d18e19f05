package render

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLinkGateRequestResolve(t *testing.T) {
	v := newTestValidator(t, nil)
	g := NewLinkGate(v, time.Minute)
	defer g.Close()

	token, err := g.Request("https://example.com/x")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if target, ok := g.Target(token); !ok || target != "https://example.com/x" {
		t.Errorf("Target = (%q, %v)", target, ok)
	}

	target, err := g.Resolve(token, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target != "https://example.com/x" {
		t.Errorf("Resolve target = %q", target)
	}

	if _, err := g.Resolve(token, true); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("second Resolve err = %v, want ErrUnknownToken", err)
	}
}

func TestLinkGateDeny(t *testing.T) {
	g := NewLinkGate(newTestValidator(t, nil), time.Minute)
	defer g.Close()

	token, err := g.Request("https://example.com/x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Resolve(token, false); !errors.Is(err, ErrConfirmationDenied) {
		t.Errorf("Resolve(false) err = %v, want ErrConfirmationDenied", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d, want 0", g.Len())
	}
}

func TestLinkGateRejectsUnsafeURL(t *testing.T) {
	g := NewLinkGate(newTestValidator(t, nil), time.Minute)
	defer g.Close()

	for _, raw := range []string{"javascript:alert(1)", "data:text/html,x", "ftp://example.com"} {
		if _, err := g.Request(raw); !errors.Is(err, ErrUnsafeURL) {
			t.Errorf("Request(%q) err = %v, want ErrUnsafeURL", raw, err)
		}
	}

	never := ConfirmerFunc(func(ctx context.Context, target string) (bool, error) {
		t.Error("confirmer called for unsafe URL")
		return true, nil
	})
	if _, err := g.Open(context.Background(), "javascript:alert(1)", never); !errors.Is(err, ErrUnsafeURL) {
		t.Errorf("Open err = %v, want ErrUnsafeURL", err)
	}
}

func TestLinkGateTimeout(t *testing.T) {
	g := NewLinkGate(newTestValidator(t, nil), 20*time.Millisecond)
	defer g.Close()

	slow := ConfirmerFunc(func(ctx context.Context, target string) (bool, error) {
		time.Sleep(200 * time.Millisecond)
		return true, nil
	})

	if _, err := g.Open(context.Background(), "https://example.com", slow); !errors.Is(err, ErrConfirmationDenied) {
		t.Errorf("Open err = %v, want ErrConfirmationDenied after timeout", err)
	}
}

func TestLinkGateCancelled(t *testing.T) {
	g := NewLinkGate(newTestValidator(t, nil), time.Minute)
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	blocking := ConfirmerFunc(func(ctx context.Context, target string) (bool, error) {
		cancel()
		<-ctx.Done()
		return false, ctx.Err()
	})

	target, err := g.Open(ctx, "https://example.com", blocking)
	if target != "" {
		t.Errorf("cancelled Open returned target %q", target)
	}
	if err == nil {
		t.Error("cancelled Open returned nil error")
	}
}

func TestLinkGateCloseDeniesPending(t *testing.T) {
	g := NewLinkGate(newTestValidator(t, nil), time.Minute)

	if _, err := g.Request("https://example.com"); err != nil {
		t.Fatal(err)
	}
	g.Close()
	if g.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", g.Len())
	}
}
