package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anonchat/internal/logger"
	"anonchat/internal/redact"
	"anonchat/internal/render"
)

// ManagerOptions configure the sessions a Manager creates.
type ManagerOptions struct {
	// Validator is the template for every session validator. Its Cache
	// field is ignored: each session gets a cache of its own.
	Validator        render.ValidatorOptions
	CacheTTL         time.Duration
	CacheSize        int
	ProbeConcurrency int
	ConfirmTimeout   time.Duration
	// IdleTimeout closes sessions without activity. Defaults to 30 minutes.
	IdleTimeout time.Duration
}

// Manager keys sessions by identity.
type Manager struct {
	opts     ManagerOptions
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session of id, creating it on first use.
func (m *Manager) Get(id Identity) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id.String()]; ok {
		s.Touch()
		return s, nil
	}

	s, err := m.newSession(id)
	if err != nil {
		return nil, err
	}
	m.sessions[id.String()] = s
	logger.Debugf("identity: session opened for %s", redact.Identity(id.String()))
	return s, nil
}

// Lookup returns an existing session.
func (m *Manager) Lookup(id Identity) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id.String()]
	return s, ok
}

// Rekey moves a session after its identity was re-issued.
func (m *Manager) Rekey(old Identity, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[old.String()]; ok && cur == s {
		delete(m.sessions, old.String())
	}
	m.sessions[s.Identity().String()] = s
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle since before now minus the idle timeout.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for key, s := range m.sessions {
		if now.Sub(s.LastSeen()) > m.opts.IdleTimeout {
			idle = append(idle, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		logger.Debugf("identity: closed %d idle sessions", len(idle))
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) newSession(id Identity) (*Session, error) {
	opts := m.opts.Validator
	opts.Cache = render.NewVerdictCache(m.opts.CacheTTL, m.opts.CacheSize)

	v, err := render.NewURLValidator(opts)
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	return newSession(id,
		render.NewRenderer(v, m.opts.ProbeConcurrency),
		render.NewLinkGate(v, m.opts.ConfirmTimeout),
	), nil
}
