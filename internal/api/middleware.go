package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"anonchat/internal/errorx"
	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/redact"
)

type sessionKey struct{}

// sessionFrom returns the session attached by sessionMiddleware.
func sessionFrom(ctx context.Context) *identity.Session {
	s, _ := ctx.Value(sessionKey{}).(*identity.Session)
	return s
}

// sessionMiddleware resolves the identity cookie to a session, issuing a
// new identity when the cookie is missing or malformed.
func sessionMiddleware(sessions *identity.Manager, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip sessions for health endpoint
			if r.URL.Path == "/api/health" || sessions == nil {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := identity.FromRequest(r)
			if !ok {
				id = identity.New()
				http.SetCookie(w, identity.Cookie(id, secure))
				logger.Debugf("api: issued identity %s", redact.Identity(id.String()))
			}

			sess, err := sessions.Get(id)
			if err != nil {
				writeError(w, err)
				return
			}
			sess.Touch()
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
		})
	}
}

// corsMiddleware allows the configured origins. Without origins only
// same-origin requests are served, so no CORS headers are added.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
	})
	return c.Handler
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debugf("api: %s %s %d %s", r.Method, redact.URL(r.URL.String()), rec.status,
			time.Since(start).Round(time.Millisecond))
	})
}

// recoveryMiddleware turns handler panics into 500 responses.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := errorx.HandleWithRecovery(func() error {
			next.ServeHTTP(w, r)
			return nil
		})
		if err != nil {
			writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
