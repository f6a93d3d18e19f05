package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"anonchat/internal/chat"
	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/presence"
	"anonchat/internal/redact"
	"anonchat/internal/store"
)

const (
	feedWriteTimeout = 10 * time.Second
	maxFeedFrame     = 4 << 10
)

// FeedFrame is one server message on the live feed socket.
type FeedFrame struct {
	// Type is "status" or "messages".
	Type     string        `json:"type"`
	Status   string        `json:"status,omitempty"`
	Messages []messageView `json:"messages,omitempty"`
}

// feedConn serializes writes to a hijacked websocket connection. Control
// frame replies from the reader share the same lock.
type feedConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *feedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return c.conn.Write(p)
}

func (c *feedConn) send(frame FeedFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return wsutil.WriteServerText(c, data)
}

// handleFeedSocket upgrades to a websocket and pushes the newest messages,
// prepared for this session, after every change. The connection also
// counts as presence.
func (s *APIServer) handleFeedSocket(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sess := sessionFrom(r.Context())
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logger.Debugf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	// The server's write timeout was armed for the plain request.
	conn.SetDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	fc := &feedConn{conn: conn}
	id := redact.Identity(sess.Identity().String())
	logger.Debugf("api: feed client %s connected", id)
	defer logger.Debugf("api: feed client %s disconnected", id)

	go s.readFeed(ctx, cancel, fc)
	if s.deps.Presence != nil {
		go s.deps.Presence.Run(ctx, sess, presence.Device{
			Platform:  r.URL.Query().Get("platform"),
			UserAgent: r.UserAgent(),
		})
	}

	if err := fc.send(FeedFrame{Type: "status", Status: "connected"}); err != nil {
		return
	}

	sub, err := s.deps.Chat.Subscribe(ctx, limit)
	if err != nil {
		logger.Warnf("api: feed subscribe: %v", err)
		return
	}
	defer sub.Close()

	for snap := range sub.Updates() {
		if err := s.pushSnapshot(ctx, fc, sess, snap); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debugf("api: feed push: %v", err)
			}
			return
		}
	}
	if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warnf("api: feed subscription ended: %v", err)
	}
}

func (s *APIServer) pushSnapshot(ctx context.Context, fc *feedConn, sess *identity.Session, snap store.Snapshot) error {
	entries, err := chat.Entries(snap)
	if err != nil {
		return err
	}
	views, err := s.displayEntries(ctx, sess, entries)
	if err != nil {
		return err
	}
	return fc.send(FeedFrame{Type: "messages", Messages: views})
}

// readFeed drains client frames, answering control frames, until the
// client goes away. It cancels the feed on exit.
func (s *APIServer) readFeed(ctx context.Context, cancel context.CancelFunc, fc *feedConn) {
	defer cancel()

	rd := &wsutil.Reader{
		Source:         fc.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   maxFeedFrame,
		OnIntermediate: wsutil.ControlFrameHandler(fc, ws.StateServerSide),
	}
	for ctx.Err() == nil {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if err := rd.OnIntermediate(hdr, rd); err != nil {
				return
			}
			continue
		}
		// Client data frames carry nothing the feed needs.
		if err := rd.Discard(); err != nil {
			return
		}
	}
}
