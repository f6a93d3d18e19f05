package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/go-cmp/cmp"

	"anonchat/internal/chat"
	"anonchat/internal/config"
	"anonchat/internal/identity"
	"anonchat/internal/presence"
	"anonchat/internal/render"
	"anonchat/internal/store"
)

type testServer struct {
	api     *APIServer
	handler http.Handler
	store   *store.SQLite
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sessions := identity.NewManager(identity.ManagerOptions{
		Validator: render.ValidatorOptions{BaseURL: "http://chat.test/"},
	})
	t.Cleanup(sessions.Close)

	cfg := config.Default().Server
	s := NewAPIServer(cfg, Deps{
		Chat:     chat.NewService(st, chat.Options{}),
		Presence: presence.NewTracker(st, 0, 0),
		Sessions: sessions,
		Stats:    st,
	})
	return &testServer{api: s, handler: s.Handler(), store: st}
}

// do serves one request as the participant id. A zero id sends no cookie.
func (ts *testServer) do(t *testing.T, id identity.Identity, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case url.Values:
		rd = strings.NewReader(b.Encode())
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, rd)
	if _, ok := body.(url.Values); ok {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !id.IsZero() {
		req.AddCookie(identity.Cookie(id, false))
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

var (
	alice = identity.Identity{DeviceID: "1111111111111", Color: "FF6B6B"}
	bob   = identity.Identity{DeviceID: "2222222222222", Color: "4ECDC4"}
)

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, identity.Identity{}, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if c := w.Result().Cookies(); len(c) != 0 {
		t.Errorf("health issued cookies: %v", c)
	}

	resp := decode[map[string]string](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status field = %q, want ok", resp["status"])
	}
	if _, ok := resp["uptime"]; !ok {
		t.Error("Expected uptime field in response")
	}
}

func TestSessionCookieIssued(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, identity.Identity{}, http.MethodGet, "/api/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.CookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("no identity cookie issued")
	}
	id, err := identity.Parse(issued.Value)
	if err != nil {
		t.Fatalf("issued cookie %q: %v", issued.Value, err)
	}

	settings := decode[settingsView](t, w)
	if settings.Identity != id.String() || settings.Nickname != id.DefaultNickname() {
		t.Errorf("settings = %+v, want identity %s", settings, id)
	}
}

func TestSendAndListMessages(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, alice, http.MethodPost, "/api/messages", chat.Draft{Text: "see [docs](https://example.com/a)"})
	if w.Code != http.StatusCreated {
		t.Fatalf("send status = %d: %s", w.Code, w.Body)
	}
	sent := decode[messageView](t, w)
	if sent.Key == "" || sent.Author != alice.String() {
		t.Errorf("sent = %+v", sent)
	}

	w = ts.do(t, bob, http.MethodGet, "/api/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", w.Code, w.Body)
	}
	list := decode[struct {
		Messages []messageView `json:"messages"`
	}](t, w)
	if len(list.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(list.Messages))
	}
	got := list.Messages[0].HTML
	if !strings.Contains(got, `href="/leave?to=https%3A%2F%2Fexample.com%2Fa"`) {
		t.Errorf("link not routed through the gate: %s", got)
	}
	if strings.Contains(w.Body.String(), `"text"`) || strings.Contains(w.Body.String(), ` href=\"https://`) {
		t.Errorf("response exposes ungated markup: %s", w.Body)
	}
}

func TestSendErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "empty text", body: chat.Draft{Text: "   "}, status: http.StatusBadRequest},
		{name: "too long", body: chat.Draft{Text: strings.Repeat("a", 1001)}, status: http.StatusBadRequest},
		{name: "unknown parent", body: chat.Draft{Text: "hi", ReplyTo: "-Nmissing"}, status: http.StatusBadRequest},
		{name: "not json", body: url.Values{"text": {"hi"}}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, alice, http.MethodPost, "/api/messages", tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body)
			}
			if resp := decode[map[string]string](t, w); resp["error"] == "" {
				t.Error("no error message")
			}
		})
	}
}

func TestEditAndDeleteOwnership(t *testing.T) {
	ts := newTestServer(t)
	sent := decode[messageView](t, ts.do(t, alice, http.MethodPost, "/api/messages", chat.Draft{Text: "first"}))
	path := "/api/messages/" + sent.Key

	if w := ts.do(t, bob, http.MethodPatch, path, EditRequest{Text: "mine now"}); w.Code != http.StatusForbidden {
		t.Errorf("edit by other: status = %d, want 403", w.Code)
	}
	if w := ts.do(t, bob, http.MethodDelete, path, nil); w.Code != http.StatusForbidden {
		t.Errorf("delete by other: status = %d, want 403", w.Code)
	}

	w := ts.do(t, alice, http.MethodPatch, path, EditRequest{Text: "second"})
	if w.Code != http.StatusOK {
		t.Fatalf("edit: status = %d: %s", w.Code, w.Body)
	}
	if edited := decode[messageView](t, w); !edited.Edited || !strings.Contains(edited.HTML, "second") {
		t.Errorf("edited = %+v", edited)
	}

	if w := ts.do(t, alice, http.MethodDelete, path, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want 204", w.Code)
	}
	if w := ts.do(t, alice, http.MethodDelete, path, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
}

func TestPinReactAndClear(t *testing.T) {
	ts := newTestServer(t)
	sent := decode[messageView](t, ts.do(t, alice, http.MethodPost, "/api/messages", chat.Draft{Text: "**pin me**"}))

	if w := ts.do(t, bob, http.MethodPost, "/api/messages/"+sent.Key+"/pin", nil); w.Code != http.StatusNoContent {
		t.Fatalf("pin: status = %d: %s", w.Code, w.Body)
	}
	pinned := decode[struct {
		Pinned []chat.PinnedEntry `json:"pinned"`
	}](t, ts.do(t, bob, http.MethodGet, "/api/pinned", nil))
	want := []chat.PinnedEntry{{Key: sent.Key, Nickname: sent.Nickname, Color: sent.Color, Preview: "pin me"}}
	if diff := cmp.Diff(want, pinned.Pinned); diff != "" {
		t.Errorf("pinned mismatch (-want +got):\n%s", diff)
	}

	w := ts.do(t, bob, http.MethodPost, "/api/messages/"+sent.Key+"/reactions/like", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("react: status = %d: %s", w.Code, w.Body)
	}
	if diff := cmp.Diff(chat.Reactions{Like: 1}, decode[chat.Reactions](t, w)); diff != "" {
		t.Errorf("reactions mismatch (-want +got):\n%s", diff)
	}
	if w := ts.do(t, bob, http.MethodPost, "/api/messages/"+sent.Key+"/reactions/love", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown reaction: status = %d, want 400", w.Code)
	}

	if w := ts.do(t, alice, http.MethodDelete, "/api/messages", nil); w.Code != http.StatusBadRequest {
		t.Errorf("clear without confirm: status = %d, want 400", w.Code)
	}
	if w := ts.do(t, alice, http.MethodDelete, "/api/messages?confirm=true", nil); w.Code != http.StatusNoContent {
		t.Errorf("clear: status = %d, want 204", w.Code)
	}
	list := decode[struct {
		Messages []messageView `json:"messages"`
	}](t, ts.do(t, alice, http.MethodGet, "/api/messages", nil))
	if len(list.Messages) != 0 {
		t.Errorf("messages left after clear: %d", len(list.Messages))
	}
}

func TestSearchHighlights(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, alice, http.MethodPost, "/api/messages", chat.Draft{Text: "the quick fox"})
	ts.do(t, alice, http.MethodPost, "/api/messages", chat.Draft{Text: "lazy dog"})

	w := ts.do(t, bob, http.MethodGet, "/api/search?q=FOX", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: status = %d: %s", w.Code, w.Body)
	}
	found := decode[struct {
		Messages []messageView `json:"messages"`
	}](t, w)
	if len(found.Messages) != 1 {
		t.Fatalf("found %d messages, want 1", len(found.Messages))
	}
	if !strings.Contains(found.Messages[0].HTML, "fox</span>") {
		t.Errorf("match not highlighted: %s", found.Messages[0].HTML)
	}

	if w := ts.do(t, bob, http.MethodGet, "/api/search?q=", nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty search: status = %d, want 400", w.Code)
	}
}

func TestSettingsColorChangeReissuesCookie(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, alice, http.MethodPost, "/api/settings", identity.Settings{Nickname: "anon_1", Color: "#123abc"})
	if w.Code != http.StatusOK {
		t.Fatalf("settings: status = %d: %s", w.Code, w.Body)
	}
	var reissued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.CookieName {
			reissued = c
		}
	}
	want := identity.Identity{DeviceID: alice.DeviceID, Color: "123ABC"}
	if reissued == nil || reissued.Value != want.String() {
		t.Fatalf("reissued cookie = %v, want %s", reissued, want)
	}

	// The session follows the new identity.
	got := decode[settingsView](t, ts.do(t, want, http.MethodGet, "/api/settings", nil))
	if got.Nickname != "anon_1" || got.Identity != want.String() {
		t.Errorf("settings after reissue = %+v", got)
	}

	if w := ts.do(t, want, http.MethodPost, "/api/settings", identity.Settings{Theme: "neon"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid theme: status = %d, want 400", w.Code)
	}
}

func TestPresenceAndOnline(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, alice, http.MethodPost, "/api/presence", presence.Device{Platform: "web"}); w.Code != http.StatusNoContent {
		t.Fatalf("presence: status = %d: %s", w.Code, w.Body)
	}
	if w := ts.do(t, bob, http.MethodPost, "/api/presence", nil); w.Code != http.StatusNoContent {
		t.Fatalf("presence without body: status = %d: %s", w.Code, w.Body)
	}

	online := decode[struct {
		Count   int          `json:"count"`
		Summary string       `json:"summary"`
		Users   []onlineView `json:"users"`
	}](t, ts.do(t, alice, http.MethodGet, "/api/online", nil))
	if online.Count != 2 || len(online.Users) != 2 {
		t.Errorf("online = %+v, want 2 users", online)
	}
	if !strings.HasPrefix(online.Summary, "Online: 2") {
		t.Errorf("summary = %q", online.Summary)
	}
}

func TestPreview(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, alice, http.MethodPost, "/api/preview", PreviewRequest{Text: `<b onclick="x()">bold</b><script>alert(1)</script>`})
	if w.Code != http.StatusOK {
		t.Fatalf("preview: status = %d: %s", w.Code, w.Body)
	}
	got := decode[map[string]any](t, w)
	html, _ := got["html"].(string)
	if strings.Contains(html, "onclick") || strings.Contains(html, "script") {
		t.Errorf("preview not sanitized: %s", html)
	}
	if !strings.Contains(html, "bold") {
		t.Errorf("preview lost text: %s", html)
	}

	// Nothing was stored.
	stats, err := ts.store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["messages"] != 0 {
		t.Errorf("preview stored %d messages", stats["messages"])
	}
}

var tokenPattern = regexp.MustCompile(`name="token" value="([^"]+)"`)

func TestLeaveGate(t *testing.T) {
	tests := []struct {
		name     string
		decision string
		location string
	}{
		{name: "approve", decision: "approve", location: "https://example.com/x"},
		{name: "deny", decision: "deny", location: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			w := ts.do(t, alice, http.MethodGet, "/leave?to="+url.QueryEscape("https://example.com/x"), nil)
			if w.Code != http.StatusOK {
				t.Fatalf("leave page: status = %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), "https://example.com/x") {
				t.Errorf("target not shown: %s", w.Body)
			}
			m := tokenPattern.FindStringSubmatch(w.Body.String())
			if m == nil {
				t.Fatalf("no token in page: %s", w.Body)
			}

			w = ts.do(t, alice, http.MethodPost, "/leave", url.Values{"token": {m[1]}, "decision": {tt.decision}})
			if w.Code != http.StatusSeeOther {
				t.Fatalf("decision: status = %d, want 303", w.Code)
			}
			if loc := w.Header().Get("Location"); loc != tt.location {
				t.Errorf("Location = %q, want %q", loc, tt.location)
			}

			// Tokens are single use.
			w = ts.do(t, alice, http.MethodPost, "/leave", url.Values{"token": {m[1]}, "decision": {"approve"}})
			if w.Code != http.StatusNotFound {
				t.Errorf("reused token: status = %d, want 404", w.Code)
			}
		})
	}
}

func TestLeaveGateRejects(t *testing.T) {
	ts := newTestServer(t)

	for _, target := range []string{"javascript:alert(1)", "data:text/html,hi", ""} {
		w := ts.do(t, alice, http.MethodGet, "/leave?to="+url.QueryEscape(target), nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("leave to %q: status = %d, want 400", target, w.Code)
		}
	}

	w := ts.do(t, alice, http.MethodPost, "/leave", url.Values{"token": {"x"}, "decision": {"maybe"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad decision: status = %d, want 400", w.Code)
	}
	// Another participant cannot resolve alice's token.
	page := ts.do(t, alice, http.MethodGet, "/leave?to="+url.QueryEscape("https://example.com/"), nil)
	m := tokenPattern.FindStringSubmatch(page.Body.String())
	if m == nil {
		t.Fatal("no token in page")
	}
	w = ts.do(t, bob, http.MethodPost, "/leave", url.Values{"token": {m[1]}, "decision": {"approve"}})
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign token: status = %d, want 404", w.Code)
	}
}

func TestFeedPage(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, alice, http.MethodPost, "/api/messages", chat.Draft{Text: "hello <img src=x onerror=alert(1)> there"})

	w := ts.do(t, bob, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("feed page: status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Today", "hello", "Anon Chat", `class="older"`} {
		if !strings.Contains(body, want) {
			t.Errorf("feed page missing %q", want)
		}
	}
	if strings.Contains(body, "onerror") {
		t.Error("feed page contains an event handler")
	}

	if w := ts.do(t, bob, http.MethodGet, "/?before=bad%20key", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad before: status = %d, want 400", w.Code)
	}
	if w := ts.do(t, bob, http.MethodGet, "/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown page: status = %d, want 404", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, alice, http.MethodPost, "/api/messages", chat.Draft{Text: "one"})

	got := decode[struct {
		Sessions  int            `json:"sessions"`
		Documents map[string]int `json:"documents"`
	}](t, ts.do(t, alice, http.MethodGet, "/api/status", nil))
	if got.Sessions != 1 || got.Documents["messages"] != 1 {
		t.Errorf("status = %+v", got)
	}
}

func TestFeedSocket(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, br, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/feed/ws")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	var src io.Reader = conn
	if br != nil {
		src = io.MultiReader(br, conn)
	}
	rw := struct {
		io.Reader
		io.Writer
	}{src, conn}

	next := func() FeedFrame {
		t.Helper()
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var f FeedFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode frame %s: %v", data, err)
		}
		return f
	}

	if f := next(); f.Type != "status" || f.Status != "connected" {
		t.Fatalf("first frame = %+v", f)
	}

	if w := ts.do(t, alice, http.MethodPost, "/api/messages", chat.Draft{Text: "live [x](https://example.com/live)"}); w.Code != http.StatusCreated {
		t.Fatalf("send: status = %d", w.Code)
	}
	for {
		f := next()
		if f.Type != "messages" || len(f.Messages) == 0 {
			continue
		}
		if !strings.Contains(f.Messages[0].HTML, "/leave?to=") {
			t.Errorf("live message not gated: %s", f.Messages[0].HTML)
		}
		break
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{chat.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("wrap: %w", chat.ErrInvalidMessage), http.StatusBadRequest},
		{identity.ErrInvalidSettings, http.StatusBadRequest},
		{render.ErrUnsafeURL, http.StatusBadRequest},
		{chat.ErrForbidden, http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{render.ErrUnknownToken, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{store.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestCORS(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("allowed origin header = %q", got)
	}

	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}
