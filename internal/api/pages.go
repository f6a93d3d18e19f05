package api

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"anonchat/internal/chat"
	"anonchat/internal/logger"
	"anonchat/internal/presence"
	"anonchat/internal/render"
)

var pages = template.Must(template.New("feed").Parse(feedTemplate))

func init() {
	template.Must(pages.New("leave").Parse(leaveTemplate))
	template.Must(pages.New("notice").Parse(noticeTemplate))
}

type dayGroup struct {
	Label    string
	Messages []pageMessage
}

type pageMessage struct {
	Key       string
	Nickname  string
	Color     string
	Time      string
	Edited    bool
	Pinned    bool
	ReplyText string
	HTML      template.HTML
	Reactions chat.Reactions
}

type feedPage struct {
	Title    string
	Theme    string
	Nickname string
	Color    string
	Online   string
	Pinned   []chat.PinnedEntry
	Days     []dayGroup
	Older    string
}

// handleFeedPage renders the feed as a plain HTML page, grouped by day.
func (s *APIServer) handleFeedPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)

	entries, err := s.deps.Chat.Page(ctx, r.URL.Query().Get("before"), 0)
	if err != nil {
		s.renderNotice(w, statusFor(err), "Could not load messages.")
		return
	}
	views, err := s.displayEntries(ctx, sess, entries)
	if err != nil {
		s.renderNotice(w, statusFor(err), "Could not load messages.")
		return
	}

	page := feedPage{
		Title:    sess.Title(),
		Theme:    string(sess.Theme()),
		Nickname: sess.Nickname(),
		Color:    sess.Identity().ColorHex(),
	}
	if pinned, err := s.deps.Chat.Pinned(ctx); err == nil {
		page.Pinned = pinned
	} else {
		logger.Warnf("api: pinned: %v", err)
	}
	if s.deps.Presence != nil {
		if users, err := s.deps.Presence.Online(ctx); err == nil {
			page.Online = presence.Summary(users)
		} else {
			logger.Warnf("api: online: %v", err)
		}
	}

	// views carry Display output, which is sanitized and link-gated.
	now := time.Now()
	for _, v := range views {
		ts := v.Time()
		label := chat.DayLabel(ts, now)
		if n := len(page.Days); n == 0 || page.Days[n-1].Label != label {
			page.Days = append(page.Days, dayGroup{Label: label})
		}
		day := &page.Days[len(page.Days)-1]
		day.Messages = append(day.Messages, pageMessage{
			Key:       v.Key,
			Nickname:  v.Nickname,
			Color:     v.Color,
			Time:      ts.Format("15:04"),
			Edited:    v.Edited,
			Pinned:    v.Pinned,
			ReplyText: v.ReplyText,
			HTML:      template.HTML(v.HTML),
			Reactions: v.Reactions,
		})
	}
	if len(views) > 0 {
		page.Older = "/?before=" + url.QueryEscape(views[0].Key)
	}

	s.renderPage(w, http.StatusOK, "feed", page)
}

type leavePage struct {
	Target string
	Token  string
	Path   string
}

// handleLeavePage asks the reader to confirm an outbound navigation.
func (s *APIServer) handleLeavePage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	token, err := sess.Gate().Request(r.URL.Query().Get("to"))
	if err != nil {
		s.renderNotice(w, http.StatusBadRequest, "This link cannot be opened.")
		return
	}
	target, _ := sess.Gate().Target(token)
	s.renderPage(w, http.StatusOK, "leave", leavePage{Target: target, Token: token, Path: s.config.GatePath})
}

// handleLeaveDecision resolves a pending navigation and redirects to the
// target on approval, or back to the feed.
func (s *APIServer) handleLeaveDecision(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.renderNotice(w, http.StatusBadRequest, "Invalid request.")
		return
	}

	var approved bool
	switch r.PostForm.Get("decision") {
	case "approve":
		approved = true
	case "deny":
	default:
		s.renderNotice(w, http.StatusBadRequest, "Invalid decision.")
		return
	}

	target, err := sessionFrom(r.Context()).Gate().Resolve(r.PostForm.Get("token"), approved)
	switch {
	case err == nil:
		http.Redirect(w, r, target, http.StatusSeeOther)
	case errors.Is(err, render.ErrConfirmationDenied):
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		s.renderNotice(w, http.StatusNotFound, "This link has expired.")
	}
}

func (s *APIServer) renderNotice(w http.ResponseWriter, status int, msg string) {
	s.renderPage(w, status, "notice", msg)
}

func (s *APIServer) renderPage(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' https:; style-src 'self' 'unsafe-inline'")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		logger.Warnf("api: render %s page: %v", name, err)
	}
}

const feedTemplate = `<!DOCTYPE html>
<html lang="en" data-theme="{{.Theme}}">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<header>
<h1>{{.Title}}</h1>
<p>Writing as <span style="color: {{.Color}}">{{.Nickname}}</span></p>
{{with .Online}}<p class="online">{{.}}</p>{{end}}
</header>
{{with .Pinned}}<section class="pinned">
<h2>Pinned</h2>
<ul>{{range .}}<li><span style="color: {{.Color}}">{{.Nickname}}</span>: {{.Preview}}</li>{{end}}</ul>
</section>{{end}}
<main>
{{with .Older}}<a class="older" href="{{.}}">Older</a>{{end}}
{{range .Days}}<div class="day-separator">{{.Label}}</div>
{{range .Messages}}<article id="m-{{.Key}}"{{if .Pinned}} class="pinned"{{end}}>
<header><span style="color: {{.Color}}">{{.Nickname}}</span> <time>{{.Time}}</time>{{if .Edited}} <em>(edited)</em>{{end}}</header>
{{with .ReplyText}}<blockquote class="reply">{{.}}</blockquote>{{end}}
<div class="body">{{.HTML}}</div>
<footer>👍 {{.Reactions.Like}} ✅ {{.Reactions.Check}} ❌ {{.Reactions.Cross}}</footer>
</article>
{{end}}{{else}}<p>No messages yet.</p>{{end}}
</main>
</body>
</html>
`

const leaveTemplate = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Leaving the chat</title></head>
<body>
<h1>You are leaving the chat</h1>
<p>This link goes to:</p>
<p><code>{{.Target}}</code></p>
<form method="post" action="{{.Path}}">
<input type="hidden" name="token" value="{{.Token}}">
<button type="submit" name="decision" value="approve">Open link</button>
<button type="submit" name="decision" value="deny">Stay here</button>
</form>
</body>
</html>
`

const noticeTemplate = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Anon Chat</title></head>
<body><p>{{.}}</p><p><a href="/">Back to the chat</a></p></body>
</html>
`
