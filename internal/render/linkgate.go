package render

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"anonchat/internal/logger"
	"anonchat/internal/redact"
)

var (
	// ErrConfirmationDenied is returned when the user declines, or never
	// answers, a navigation prompt.
	ErrConfirmationDenied = errors.New("navigation not confirmed")
	// ErrUnknownToken is returned for tokens that were resolved or expired.
	ErrUnknownToken = errors.New("confirmation request not found or expired")
)

// DefaultConfirmTimeout is how long a navigation prompt stays open.
const DefaultConfirmTimeout = 60 * time.Second

// Confirmer asks the user whether to leave for target.
type Confirmer interface {
	Confirm(ctx context.Context, target string) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, target string) (bool, error)

// Confirm calls f.
func (f ConfirmerFunc) Confirm(ctx context.Context, target string) (bool, error) {
	return f(ctx, target)
}

// LinkGate holds navigation requests until the user confirms or denies
// them. Unanswered requests are denied after the timeout.
type LinkGate struct {
	validator *URLValidator
	timeout   time.Duration
	pending   map[string]*pendingNavigation
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

type pendingNavigation struct {
	target    string
	resultCh  chan bool
	createdAt time.Time
	timer     *time.Timer
}

// NewLinkGate creates a gate and starts its sweeper. Call Close to stop it.
func NewLinkGate(v *URLValidator, timeout time.Duration) *LinkGate {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	g := &LinkGate{
		validator: v,
		timeout:   timeout,
		pending:   make(map[string]*pendingNavigation),
		done:      make(chan struct{}),
	}
	go g.cleanupExpired()
	return g
}

// Request registers a navigation to raw and returns its token. raw must
// pass navigation validation.
func (g *LinkGate) Request(raw string) (string, error) {
	_, token, err := g.request(raw)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (g *LinkGate) request(raw string) (*pendingNavigation, string, error) {
	target, err := g.validator.Resolve(raw, Navigation)
	if err != nil {
		logger.Debugf("render: navigation to %s refused", redact.URL(raw))
		return nil, "", err
	}

	token := uuid.NewString()
	p := &pendingNavigation{
		target:    target,
		resultCh:  make(chan bool, 1),
		createdAt: time.Now(),
	}

	g.mu.Lock()
	g.pending[token] = p
	p.timer = time.AfterFunc(g.timeout, func() { g.expire(token) })
	g.mu.Unlock()

	return p, token, nil
}

// Target returns the destination of a pending request.
func (g *LinkGate) Target(token string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[token]
	if !ok {
		return "", false
	}
	return p.target, true
}

// Resolve answers a pending request. On approval it returns the target.
func (g *LinkGate) Resolve(token string, approved bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[token]
	if !ok {
		return "", ErrUnknownToken
	}
	delete(g.pending, token)
	if p.timer != nil {
		p.timer.Stop()
	}

	select {
	case p.resultCh <- approved:
	default:
	}

	if !approved {
		return "", ErrConfirmationDenied
	}
	return p.target, nil
}

// Open validates raw, asks c for confirmation and returns the target the
// caller may navigate to. Denial, timeout and cancellation all return an
// error and no target.
func (g *LinkGate) Open(ctx context.Context, raw string, c Confirmer) (string, error) {
	p, token, err := g.request(raw)
	if err != nil {
		return "", err
	}

	go func() {
		ok, err := c.Confirm(ctx, p.target)
		if err != nil {
			logger.Debugf("render: confirmation failed: %v", err)
			ok = false
		}
		// Fails only when timeout or cancellation resolved the token first.
		_, _ = g.Resolve(token, ok)
	}()

	select {
	case approved := <-p.resultCh:
		if !approved {
			return "", ErrConfirmationDenied
		}
		return p.target, nil
	case <-ctx.Done():
		_, _ = g.Resolve(token, false)
		return "", ctx.Err()
	}
}

// Len returns the number of open requests.
func (g *LinkGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Close denies every open request and stops the sweeper.
func (g *LinkGate) Close() {
	g.closeOnce.Do(func() {
		close(g.done)

		g.mu.Lock()
		defer g.mu.Unlock()
		for token, p := range g.pending {
			if p.timer != nil {
				p.timer.Stop()
			}
			select {
			case p.resultCh <- false:
			default:
			}
			delete(g.pending, token)
		}
	})
}

func (g *LinkGate) expire(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[token]
	if !ok {
		return
	}
	select {
	case p.resultCh <- false:
	default:
	}
	delete(g.pending, token)
	logger.Debugf("render: navigation request %s timed out", token)
}

// cleanupExpired drops requests whose timer never fired, e.g. after a
// clock jump.
func (g *LinkGate) cleanupExpired() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.mu.Lock()
			now := time.Now()
			for token, p := range g.pending {
				if now.Sub(p.createdAt) > 2*g.timeout {
					delete(g.pending, token)
				}
			}
			g.mu.Unlock()
		}
	}
}
