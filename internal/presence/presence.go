// Package presence tracks which authors are online.
package presence

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/sanitize"
	"anonchat/internal/store"
)

const (
	usersPath = "users"

	// DefaultOnlineWindow is how recent a heartbeat must be to count as online.
	DefaultOnlineWindow = 60 * time.Second
	// DefaultHeartbeatInterval is the Run ticker period.
	DefaultHeartbeatInterval = 30 * time.Second

	maxUserAgent    = 50
	maxPlatform     = 50
	maxListed       = 3
	maxListedLength = 10
)

// Device describes the client an author uses.
type Device struct {
	Platform  string `json:"platform"`
	UserAgent string `json:"userAgent"`
}

// User is the presence document stored per author.
type User struct {
	LastActive     int64  `json:"lastActive"`
	Online         bool   `json:"online"`
	Nickname       string `json:"nickname"`
	Color          string `json:"color"`
	DeviceInfo     Device `json:"deviceInfo"`
	HasSentMessage bool   `json:"hasSentMessage"`
}

// OnlineUser is a User together with its store key.
type OnlineUser struct {
	Key string `json:"key"`
	User
}

// Tracker records heartbeats and answers who is online.
type Tracker struct {
	store    store.Store
	window   atomic.Int64
	interval time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker. Zero durations pick the defaults.
func NewTracker(st store.Store, window, interval time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultOnlineWindow
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	t := &Tracker{store: st, interval: interval, now: time.Now}
	t.window.Store(int64(window))
	return t
}

// SetWindow changes the online window at runtime.
func (t *Tracker) SetWindow(window time.Duration) {
	if window > 0 {
		t.window.Store(int64(window))
	}
}

func userPath(sess *identity.Session) string {
	return store.Join(usersPath, sess.Identity().SafeKey())
}

// Heartbeat marks the author of sess online. A heartbeat also counts the
// author as a participant, so they are listed before their first message.
func (t *Tracker) Heartbeat(ctx context.Context, sess *identity.Session, device Device) error {
	sess.Touch()
	id := sess.Identity()
	return t.store.Update(ctx, userPath(sess), map[string]any{
		"lastActive": t.now().UnixMilli(),
		"online":     true,
		"nickname":   sess.Nickname(),
		"color":      id.ColorHex(),
		"deviceInfo": Device{
			Platform:  sanitize.Text(device.Platform, maxPlatform),
			UserAgent: sanitize.Text(device.UserAgent, maxUserAgent),
		},
		"hasSentMessage": true,
	})
}

// Offline marks the author of sess offline.
func (t *Tracker) Offline(ctx context.Context, sess *identity.Session) error {
	return t.store.Update(ctx, userPath(sess), map[string]any{"online": false})
}

// Online returns the authors that are online, are marked as participants
// and sent a heartbeat within the online window, newest first.
func (t *Tracker) Online(ctx context.Context) ([]OnlineUser, error) {
	snap, err := t.store.Once(ctx, usersPath, store.Query{})
	if err != nil {
		return nil, err
	}

	now := t.now()
	window := time.Duration(t.window.Load())
	var online []OnlineUser
	for _, c := range snap.Children {
		var u User
		if err := c.Decode(&u); err != nil {
			logger.Debugf("presence: skip user %s: %v", c.Key, err)
			continue
		}
		if !u.Online || !u.HasSentMessage {
			continue
		}
		if now.Sub(time.UnixMilli(u.LastActive)) >= window {
			continue
		}
		online = append(online, OnlineUser{Key: c.Key, User: u})
	}

	slices.SortStableFunc(online, func(a, b OnlineUser) int {
		return cmp.Compare(b.LastActive, a.LastActive)
	})
	return online, nil
}

// Summary formats users as "Online: N (a, b, c)", naming at most three.
func Summary(users []OnlineUser) string {
	var names []string
	for _, u := range users[:min(len(users), maxListed)] {
		name := u.Nickname
		if name == "" {
			name, _, _ = strings.Cut(u.Key, "_")
		}
		names = append(names, sanitize.Truncate(name, maxListedLength, ""))
	}
	if len(names) == 0 {
		return fmt.Sprintf("Online: %d", len(users))
	}
	return fmt.Sprintf("Online: %d (%s)", len(users), strings.Join(names, ", "))
}

// Run sends a heartbeat now and then every interval until ctx is done,
// when the author is marked offline.
func (t *Tracker) Run(ctx context.Context, sess *identity.Session, device Device) {
	beat := func() {
		if err := t.Heartbeat(ctx, sess, device); err != nil && ctx.Err() == nil {
			logger.Warnf("presence: heartbeat: %v", err)
		}
	}
	beat()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := t.Offline(context.WithoutCancel(ctx), sess); err != nil {
				logger.Warnf("presence: mark offline: %v", err)
			}
			return
		case <-ticker.C:
			beat()
		}
	}
}

// PruneInactive removes users whose last heartbeat is older than cutoff.
// Users that never sent a heartbeat are kept.
func (t *Tracker) PruneInactive(ctx context.Context, cutoff time.Time) (int, error) {
	snap, err := t.store.Once(ctx, usersPath, store.Query{
		OrderBy: "lastActive",
		StartAt: 1,
		EndAt:   cutoff.UnixMilli() - 1,
	})
	if err != nil {
		return 0, err
	}
	if err := store.RemoveKeys(ctx, t.store, usersPath, snap.Keys()); err != nil {
		return 0, err
	}
	return snap.Len(), nil
}
