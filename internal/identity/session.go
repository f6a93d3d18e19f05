package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"anonchat/internal/render"
	"anonchat/internal/sanitize"
)

// Theme is the color scheme a participant prefers.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// DefaultTitle is shown until a participant sets their own.
const DefaultTitle = "Anon Chat"

const maxTitleLen = 50

// ErrInvalidSettings wraps settings validation failures.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the user-editable parts of a session. Empty fields are
// left unchanged.
type Settings struct {
	Nickname string `json:"nickname,omitempty"`
	Color    string `json:"color,omitempty"`
	Theme    Theme  `json:"theme,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Validate checks every non-empty field.
func (s Settings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Nickname, validation.Match(nicknamePattern).Error("must be 3-20 letters, digits or underscores")),
		validation.Field(&s.Color, validation.Match(colorPattern).Error("must be #RGB or #RRGGBB")),
		validation.Field(&s.Theme, validation.In(ThemeLight, ThemeDark)),
		validation.Field(&s.Title, validation.RuneLength(0, 200)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Session is the state of one participant: their identity and
// preferences, plus a renderer with its own URL verdict cache and a link
// gate. Closing a session cancels its in-flight image probes.
type Session struct {
	mu       sync.RWMutex
	identity Identity
	nickname string
	theme    Theme
	title    string
	lastSeen time.Time

	renderer *render.Renderer
	gate     *render.LinkGate
	ctx      context.Context
	cancel   context.CancelFunc
}

func newSession(id Identity, renderer *render.Renderer, gate *render.LinkGate) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		identity: id,
		nickname: id.DefaultNickname(),
		theme:    ThemeLight,
		title:    DefaultTitle,
		lastSeen: time.Now(),
		renderer: renderer,
		gate:     gate,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Identity returns the current identity.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Nickname returns the display name.
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// Theme returns the preferred theme.
func (s *Session) Theme() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// Title returns the chat title as this participant named it.
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// Settings returns the current settings.
func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Settings{Nickname: s.nickname, Color: s.identity.ColorHex(), Theme: s.theme, Title: s.title}
}

// Renderer returns the session's rendering pipeline.
func (s *Session) Renderer() *render.Renderer {
	return s.renderer
}

// Gate returns the session's navigation confirmation gate.
func (s *Session) Gate() *render.LinkGate {
	return s.gate
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Touch records activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last activity.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Apply validates and stores settings. A color change re-issues the
// identity; the returned bool reports it.
func (s *Session) Apply(settings Settings) (bool, error) {
	if err := settings.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reissued := false
	if settings.Color != "" {
		next, err := s.identity.WithColor(settings.Color)
		if err != nil {
			return false, err
		}
		reissued = next != s.identity
		s.identity = next
	}
	if settings.Nickname != "" {
		s.nickname = settings.Nickname
	}
	if settings.Theme != "" {
		s.theme = settings.Theme
	}
	if settings.Title != "" {
		if title := sanitize.Text(render.PlainText(settings.Title), maxTitleLen); title != "" {
			s.title = title
		}
	}
	return reissued, nil
}

// Close cancels the session context and denies pending navigations.
func (s *Session) Close() {
	s.cancel()
	if s.gate != nil {
		s.gate.Close()
	}
}
