// Package chat implements the message feed: sending, editing, reactions,
// pins, paging and search over the store.
package chat

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"anonchat/internal/store"
)

const (
	messagesPath  = "messages"
	usersPath     = "users"
	reactionsPath = "reactions"
)

var (
	// ErrRateLimited is returned when an author sends too fast.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidMessage wraps draft validation failures.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNotFound is returned for unknown message keys.
	ErrNotFound = store.ErrNotFound
)

// ReactionType names one of the reaction counters.
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionCheck ReactionType = "check"
	ReactionCross ReactionType = "cross"
)

// ParseReaction validates a reaction name.
func ParseReaction(s string) (ReactionType, error) {
	switch t := ReactionType(s); t {
	case ReactionLike, ReactionCheck, ReactionCross:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown reaction %q", ErrInvalidMessage, s)
}

// Reactions counts reactions per type.
type Reactions struct {
	Like  int `json:"like"`
	Check int `json:"check"`
	Cross int `json:"cross"`
}

func (r *Reactions) counter(t ReactionType) *int {
	switch t {
	case ReactionLike:
		return &r.Like
	case ReactionCheck:
		return &r.Check
	default:
		return &r.Cross
	}
}

// Message is the stored document of one chat message. Text holds
// sanitized markup.
type Message struct {
	Author    string    `json:"author"`
	Nickname  string    `json:"nickname"`
	Text      string    `json:"text"`
	Color     string    `json:"color"`
	Timestamp int64     `json:"timestamp"`
	Edited    bool      `json:"edited"`
	Pinned    bool      `json:"pinned"`
	Reactions Reactions `json:"reactions"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	ReplyText string    `json:"replyText,omitempty"`
}

// Time returns the message timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Entry is a message together with its key.
type Entry struct {
	Key string `json:"key"`
	Message
}

// Draft is a message as submitted by an author.
type Draft struct {
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
	// IdempotencyKey makes retried submissions store one message. Empty
	// means a fresh key per call.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

var keyPattern = regexp.MustCompile(`^[-0-9A-Za-z_]{1,64}$`)

func (d Draft) validate(maxLength int) error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.Text, validation.Required, validation.RuneLength(1, maxLength)),
		validation.Field(&d.ReplyTo, validation.Match(keyPattern)),
		validation.Field(&d.IdempotencyKey, validation.Length(0, 128)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func validKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: bad key %q", ErrInvalidMessage, key)
	}
	return nil
}

func messagePath(key string) string {
	return store.Join(messagesPath, key)
}

func reactionPath(key, author string) string {
	return store.Join(reactionsPath, key+":"+author)
}
