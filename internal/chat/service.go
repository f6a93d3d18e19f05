package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"anonchat/internal/errorx"
	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/render"
	"anonchat/internal/sanitize"
	"anonchat/internal/store"
)

// ErrForbidden is returned when a session edits or deletes a message it
// did not author.
var ErrForbidden = errors.New("not the author")

// Options tune a Service. Zero values pick defaults.
type Options struct {
	// MaxLength bounds message text, in runes. Defaults to 1000.
	MaxLength int
	// RateLimit messages per RateWindow per author. Defaults to 30 per minute.
	RateLimit  int
	RateWindow time.Duration
	// PageSize is the default Page limit. Defaults to 30.
	PageSize int
	// PinnedLimit bounds Pinned. Defaults to 5.
	PinnedLimit int
	// SendAttempts bounds store writes per Send. Defaults to 3.
	SendAttempts int
	// RetryBackoff is the wait before the second attempt; it grows
	// linearly. Defaults to 200ms.
	RetryBackoff time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxLength <= 0 {
		o.MaxLength = 1000
	}
	o.RateLimit, o.RateWindow = rateDefaults(o.RateLimit, o.RateWindow)
	if o.PageSize <= 0 {
		o.PageSize = 30
	}
	if o.PinnedLimit <= 0 {
		o.PinnedLimit = 5
	}
	if o.SendAttempts <= 0 {
		o.SendAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
}

// Service is the chat feed over a store.
type Service struct {
	store     store.Store
	opts      Options
	limiter   *RateLimiter
	maxLength atomic.Int64
	now       func() time.Time

	// reactionMu serializes reaction read-modify-write cycles.
	reactionMu sync.Mutex
}

// NewService creates a chat service on st.
func NewService(st store.Store, opts Options) *Service {
	opts.setDefaults()
	s := &Service{
		store:   st,
		opts:    opts,
		limiter: NewRateLimiter(opts.RateLimit, opts.RateWindow),
		now:     time.Now,
	}
	s.maxLength.Store(int64(opts.MaxLength))
	return s
}

// SetLimits changes the message length and rate limits at runtime.
func (s *Service) SetLimits(maxLength, rate int, window time.Duration) {
	if maxLength > 0 {
		s.maxLength.Store(int64(maxLength))
	}
	s.limiter.SetLimit(rate, window)
}

// MaxLength returns the current message length limit.
func (s *Service) MaxLength() int {
	return int(s.maxLength.Load())
}

// Send renders and stores a message authored by sess.
func (s *Service) Send(ctx context.Context, sess *identity.Session, d Draft) (Entry, error) {
	id := sess.Identity()
	if !s.limiter.Allow(id.String()) {
		wait := s.limiter.RemainingCooldown(id.String()).Round(time.Second)
		return Entry{}, errorx.NewUserError(
			fmt.Sprintf("Too many messages, try again in %s.", wait), ErrRateLimited)
	}

	d.Text = strings.TrimSpace(sanitize.StripControlChars(d.Text))
	if err := d.validate(s.MaxLength()); err != nil {
		return Entry{}, err
	}

	msg := Message{
		Author:   id.String(),
		Nickname: sess.Nickname(),
		Color:    id.ColorHex(),
	}

	if d.ReplyTo != "" {
		var parent Message
		if err := s.store.Get(ctx, messagePath(d.ReplyTo), &parent); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Entry{}, fmt.Errorf("%w: reply to unknown message %s", ErrInvalidMessage, d.ReplyTo)
			}
			return Entry{}, err
		}
		msg.ReplyTo = d.ReplyTo
		msg.ReplyText = Preview(parent.Text, PreviewLength)
	}

	res, err := sess.Renderer().RenderPrepared(ctx, d.Text)
	if err != nil {
		return Entry{}, fmt.Errorf("render message: %w", err)
	}
	if len(res.Report.PendingImages) > 0 {
		logger.Debugf("chat: %d images left out of message", len(res.Report.PendingImages))
	}
	msg.Text = res.HTML
	msg.Timestamp = s.now().UnixMilli()

	token := d.IdempotencyKey
	if token == "" {
		token = uuid.NewString()
	}
	key, err := s.push(ctx, token, msg)
	if err != nil {
		return Entry{}, err
	}

	userPath := store.Join(usersPath, id.SafeKey())
	if err := s.store.Update(ctx, userPath, map[string]any{"hasSentMessage": true}); err != nil {
		logger.Warnf("chat: mark %s as sender: %v", id.SafeKey(), err)
	}
	return Entry{Key: key, Message: msg}, nil
}

// push stores msg, retrying failed writes under the same idempotency key.
func (s *Service) push(ctx context.Context, token string, msg Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.SendAttempts; attempt++ {
		key, err := s.store.PushOnce(ctx, messagesPath, token, msg)
		if err == nil {
			return key, nil
		}
		lastErr = err
		if attempt == s.opts.SendAttempts {
			break
		}
		logger.Warnf("chat: send attempt %d/%d failed: %v", attempt, s.opts.SendAttempts, err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.opts.RetryBackoff * time.Duration(attempt)):
		}
	}
	return "", fmt.Errorf("store message: %w", lastErr)
}

// Get returns one message.
func (s *Service) Get(ctx context.Context, key string) (Entry, error) {
	if err := validKey(key); err != nil {
		return Entry{}, err
	}
	var msg Message
	if err := s.store.Get(ctx, messagePath(key), &msg); err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Message: msg}, nil
}

func (s *Service) owned(ctx context.Context, sess *identity.Session, key string) (Entry, error) {
	e, err := s.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	author, err := identity.Parse(e.Author)
	if err != nil || author.DeviceID != sess.Identity().DeviceID {
		return Entry{}, errorx.NewUserError("You can only change your own messages.", ErrForbidden)
	}
	return e, nil
}

// Edit replaces the text of a message authored by sess.
func (s *Service) Edit(ctx context.Context, sess *identity.Session, key, text string) (Entry, error) {
	e, err := s.owned(ctx, sess, key)
	if err != nil {
		return Entry{}, err
	}

	d := Draft{Text: strings.TrimSpace(sanitize.StripControlChars(text))}
	if err := d.validate(s.MaxLength()); err != nil {
		return Entry{}, err
	}
	res, err := sess.Renderer().RenderPrepared(ctx, d.Text)
	if err != nil {
		return Entry{}, fmt.Errorf("render message: %w", err)
	}

	e.Text = res.HTML
	e.Timestamp = s.now().UnixMilli()
	e.Edited = true
	err = s.store.Update(ctx, messagePath(key), map[string]any{
		"text":      e.Text,
		"timestamp": e.Timestamp,
		"edited":    true,
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Delete removes a message authored by sess together with its reaction
// state.
func (s *Service) Delete(ctx context.Context, sess *identity.Session, key string) error {
	if _, err := s.owned(ctx, sess, key); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, messagePath(key)); err != nil {
		return err
	}
	return s.removeReactions(ctx, key)
}

func (s *Service) removeReactions(ctx context.Context, key string) error {
	snap, err := s.store.Once(ctx, reactionsPath, store.Query{
		StartAt: key + ":",
		EndAt:   key + ":\uffff",
	})
	if err != nil {
		return err
	}
	return store.RemoveKeys(ctx, s.store, reactionsPath, snap.Keys())
}

// Pin marks a message as pinned.
func (s *Service) Pin(ctx context.Context, key string) error {
	return s.setPinned(ctx, key, true)
}

// Unpin clears the pinned mark of a message.
func (s *Service) Unpin(ctx context.Context, key string) error {
	return s.setPinned(ctx, key, false)
}

func (s *Service) setPinned(ctx context.Context, key string, pinned bool) error {
	if _, err := s.Get(ctx, key); err != nil {
		return err
	}
	return s.store.Update(ctx, messagePath(key), map[string]any{"pinned": pinned})
}

// ToggleReaction adds the reaction of sess to a message, or takes it back
// when it was already given. Counts never drop below zero.
func (s *Service) ToggleReaction(ctx context.Context, sess *identity.Session, key string, t ReactionType) (Reactions, error) {
	if _, err := ParseReaction(string(t)); err != nil {
		return Reactions{}, err
	}

	s.reactionMu.Lock()
	defer s.reactionMu.Unlock()

	e, err := s.Get(ctx, key)
	if err != nil {
		return Reactions{}, err
	}

	statePath := reactionPath(key, sess.Identity().DeviceID)
	state := map[string]bool{}
	if err := s.store.Get(ctx, statePath, &state); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Reactions{}, err
	}

	counter := e.Reactions.counter(t)
	if state[string(t)] {
		*counter = max(*counter-1, 0)
		delete(state, string(t))
	} else {
		*counter++
		state[string(t)] = true
	}

	if err := s.store.Update(ctx, messagePath(key), map[string]any{
		"reactions/" + string(t): *counter,
	}); err != nil {
		return Reactions{}, err
	}

	if len(state) == 0 {
		err = s.store.Remove(ctx, statePath)
	} else {
		err = s.store.Set(ctx, statePath, state)
	}
	if err != nil {
		return Reactions{}, err
	}
	return e.Reactions, nil
}

// Page returns up to limit messages older than before, oldest first. An
// empty before pages from the newest message.
func (s *Service) Page(ctx context.Context, before string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	q := store.Query{LimitToLast: limit}
	if before != "" {
		if err := validKey(before); err != nil {
			return nil, err
		}
		q.EndAt = before
		q.LimitToLast = limit + 1
	}

	snap, err := s.store.Once(ctx, messagesPath, q)
	if err != nil {
		return nil, err
	}
	entries, err := Entries(snap)
	if err != nil {
		return nil, err
	}

	if n := len(entries); n > 0 && entries[n-1].Key == before {
		entries = entries[:n-1]
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// PinnedEntry is a pinned message reduced to a preview.
type PinnedEntry struct {
	Key      string `json:"key"`
	Nickname string `json:"nickname"`
	Color    string `json:"color"`
	Preview  string `json:"preview"`
}

// Pinned returns the most recent pinned messages.
func (s *Service) Pinned(ctx context.Context) ([]PinnedEntry, error) {
	snap, err := s.store.Once(ctx, messagesPath, store.Query{
		OrderBy:     "pinned",
		StartAt:     true,
		LimitToLast: s.opts.PinnedLimit,
	})
	if err != nil {
		return nil, err
	}
	entries, err := Entries(snap)
	if err != nil {
		return nil, err
	}

	pinned := make([]PinnedEntry, 0, len(entries))
	for _, e := range entries {
		pinned = append(pinned, PinnedEntry{
			Key:      e.Key,
			Nickname: e.Nickname,
			Color:    e.Color,
			Preview:  Preview(e.Text, PreviewLength),
		})
	}
	return pinned, nil
}

// Search returns the messages whose text contains term, ignoring case.
// Matches are wrapped in highlight spans.
func (s *Service) Search(ctx context.Context, term string) ([]Entry, error) {
	term = sanitize.SingleLine(term)
	if term == "" {
		return nil, fmt.Errorf("%w: empty search", ErrInvalidMessage)
	}

	snap, err := s.store.Once(ctx, messagesPath, store.Query{})
	if err != nil {
		return nil, err
	}
	entries, err := Entries(snap)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	var found []Entry
	for _, e := range entries {
		if !strings.Contains(strings.ToLower(render.PlainText(e.Text)), needle) {
			continue
		}
		if marked, ok := render.Highlight(e.Text, term); ok {
			e.Text = marked
		}
		found = append(found, e)
	}
	return found, nil
}

// ReplyPreview returns the plain-text preview of a message.
func (s *Service) ReplyPreview(ctx context.Context, key string) (string, error) {
	e, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return Preview(e.Text, PreviewLength), nil
}

// Clear removes every message, user and reaction.
func (s *Service) Clear(ctx context.Context) error {
	for _, path := range []string{messagesPath, usersPath, reactionsPath} {
		if err := s.store.Remove(ctx, path); err != nil {
			return err
		}
	}
	logger.Infof("chat: cleared all messages")
	return nil
}

// Prune removes messages stamped at or before cutoff and returns how many
// were removed.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	snap, err := s.store.Once(ctx, messagesPath, store.Query{
		OrderBy: "timestamp",
		EndAt:   cutoff.UnixMilli(),
	})
	if err != nil {
		return 0, err
	}
	for _, key := range snap.Keys() {
		if err := s.store.Remove(ctx, messagePath(key)); err != nil {
			return 0, err
		}
		if err := s.removeReactions(ctx, key); err != nil {
			return 0, err
		}
	}
	return snap.Len(), nil
}

// Subscribe streams the newest limit messages after every change.
func (s *Service) Subscribe(ctx context.Context, limit int) (*store.Subscription, error) {
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	return s.store.Subscribe(ctx, messagesPath, store.Query{LimitToLast: limit})
}

// Entries decodes a messages snapshot.
func Entries(snap store.Snapshot) ([]Entry, error) {
	entries := make([]Entry, 0, snap.Len())
	for _, c := range snap.Children {
		var msg Message
		if err := c.Decode(&msg); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: c.Key, Message: msg})
	}
	return entries, nil
}

// Display prepares stored markup for showing to sess: images are probed,
// the markup is sanitized again and links are routed through gatePath.
func Display(ctx context.Context, sess *identity.Session, markup, gatePath string) (string, error) {
	r := sess.Renderer()
	if err := r.Prepare(ctx, markup); err != nil {
		return "", err
	}
	clean := r.Sanitizer().Sanitize(markup)
	out, _ := render.InterceptMarkup(clean, r.Validator(), gatePath)
	return out, nil
}
