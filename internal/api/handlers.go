package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"anonchat/internal/chat"
	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/presence"
)

const maxPageLimit = 100

// messageView is a stored message plus its markup prepared for display.
// The stored text carries hrefs that bypass the link gate, so Text shadows
// it and stays empty: clients only ever see HTML.
type messageView struct {
	chat.Entry
	Text string `json:"text,omitempty"`
	HTML string `json:"html"`
}

// displayEntries prepares stored markup for the session viewing it.
func (s *APIServer) displayEntries(ctx context.Context, sess *identity.Session, entries []chat.Entry) ([]messageView, error) {
	views := make([]messageView, 0, len(entries))
	for _, e := range entries {
		out, err := chat.Display(ctx, sess, e.Text, s.config.GatePath)
		if err != nil {
			return nil, err
		}
		views = append(views, messageView{Entry: e, HTML: out})
	}
	return views, nil
}

// handleHealth returns service health status
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.uptime).Round(time.Second).String(),
	})
}

type jobStatus struct {
	Name    string    `json:"name"`
	Next    time.Time `json:"next"`
	LastRun time.Time `json:"lastRun"`
	LastErr string    `json:"lastError,omitempty"`
}

// handleStatus reports uptime, sessions, stored documents and jobs.
func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"uptime": time.Since(s.uptime).Round(time.Second).String(),
	}
	if s.deps.Sessions != nil {
		status["sessions"] = s.deps.Sessions.Len()
	}
	if s.deps.Stats != nil {
		stats, err := s.deps.Stats.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		status["documents"] = stats
	}
	if s.deps.Scheduler != nil {
		var jobs []jobStatus
		for _, info := range s.deps.Scheduler.Jobs() {
			js := jobStatus{Name: info.Name, Next: info.Next, LastRun: info.LastRun}
			if info.LastErr != nil {
				js.LastErr = info.LastErr.Error()
			}
			jobs = append(jobs, js)
		}
		status["jobs"] = jobs
	}
	writeJSON(w, http.StatusOK, status)
}

// handleListMessages pages through the feed.
func (s *APIServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			writeJSONError(w, fmt.Sprintf("limit must be between 1 and %d", maxPageLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.deps.Chat.Page(r.Context(), r.URL.Query().Get("before"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.displayEntries(r.Context(), sessionFrom(r.Context()), entries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

// handleSendMessage stores a new message.
func (s *APIServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var draft chat.Draft
	if err := readJSON(w, r, &draft); err != nil {
		writeError(w, err)
		return
	}

	sess := sessionFrom(r.Context())
	e, err := s.deps.Chat.Send(r.Context(), sess, draft)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.displayEntries(r.Context(), sess, []chat.Entry{e})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, views[0])
}

// EditRequest replaces the text of a message.
type EditRequest struct {
	Text string `json:"text"`
}

func (s *APIServer) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess := sessionFrom(r.Context())
	e, err := s.deps.Chat.Edit(r.Context(), sess, r.PathValue("key"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.displayEntries(r.Context(), sess, []chat.Entry{e})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views[0])
}

func (s *APIServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Chat.Delete(r.Context(), sessionFrom(r.Context()), r.PathValue("key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClear removes all messages, users and reactions. The request must
// carry confirm=true.
func (s *APIServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeJSONError(w, "confirm=true is required to clear the chat", http.StatusBadRequest)
		return
	}
	if err := s.deps.Chat.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handlePin(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Chat.Pin(r.Context(), r.PathValue("key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleUnpin(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Chat.Unpin(r.Context(), r.PathValue("key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleReaction(w http.ResponseWriter, r *http.Request) {
	t, err := chat.ParseReaction(r.PathValue("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	reactions, err := s.deps.Chat.ToggleReaction(r.Context(), sessionFrom(r.Context()), r.PathValue("key"), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reactions)
}

func (s *APIServer) handlePinned(w http.ResponseWriter, r *http.Request) {
	pinned, err := s.deps.Chat.Pinned(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pinned": pinned})
}

func (s *APIServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Chat.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.displayEntries(r.Context(), sessionFrom(r.Context()), entries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

// handlePresence records a heartbeat. The user agent defaults to the
// request header.
func (s *APIServer) handlePresence(w http.ResponseWriter, r *http.Request) {
	var device presence.Device
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &device); err != nil {
			writeError(w, err)
			return
		}
	}
	if device.UserAgent == "" {
		device.UserAgent = r.UserAgent()
	}
	if err := s.deps.Presence.Heartbeat(r.Context(), sessionFrom(r.Context()), device); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type onlineView struct {
	Nickname   string `json:"nickname"`
	Color      string `json:"color"`
	LastActive int64  `json:"lastActive"`
}

func (s *APIServer) handleOnline(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Presence.Online(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]onlineView, 0, len(users))
	for _, u := range users {
		views = append(views, onlineView{Nickname: u.Nickname, Color: u.Color, LastActive: u.LastActive})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(users),
		"summary": presence.Summary(users),
		"users":   views,
	})
}

type settingsView struct {
	identity.Settings
	Identity string `json:"identity"`
}

func (s *APIServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, settingsView{Settings: sess.Settings(), Identity: sess.Identity().String()})
}

// handleSettings applies settings. A color change re-issues the identity
// cookie.
func (s *APIServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	var settings identity.Settings
	if err := readJSON(w, r, &settings); err != nil {
		writeError(w, err)
		return
	}

	sess := sessionFrom(r.Context())
	old := sess.Identity()
	reissued, err := sess.Apply(settings)
	if err != nil {
		writeError(w, err)
		return
	}
	if reissued {
		s.deps.Sessions.Rekey(old, sess)
		http.SetCookie(w, identity.Cookie(sess.Identity(), s.config.SecureCookies))
		logger.Debugf("api: identity re-issued after color change")
	}
	writeJSON(w, http.StatusOK, settingsView{Settings: sess.Settings(), Identity: sess.Identity().String()})
}

// PreviewRequest is text to render without storing.
type PreviewRequest struct {
	Text string `json:"text"`
}

func (s *APIServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len([]rune(req.Text)) > s.deps.Chat.MaxLength() {
		writeJSONError(w, fmt.Sprintf("text longer than %d characters", s.deps.Chat.MaxLength()), http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r.Context())
	res, err := sess.Renderer().RenderPrepared(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	html, err := chat.Display(r.Context(), sess, res.HTML, s.config.GatePath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"html":          html,
		"markdown":      res.Markdown,
		"removed":       res.Report.Removed,
		"pendingImages": res.Report.PendingImages,
		"failedClosed":  res.Report.FailedClosed,
	})
}
