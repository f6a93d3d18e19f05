package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-json-experiment/json"

	"anonchat/internal/chat"
	"anonchat/internal/errorx"
	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/render"
	"anonchat/internal/store"
)

const maxBodyBytes = 64 << 10

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrInvalidMessage),
		errors.Is(err, identity.ErrInvalidSettings),
		errors.Is(err, identity.ErrInvalidIdentity),
		errors.Is(err, render.ErrUnsafeURL),
		errors.Is(err, store.ErrInvalidPath),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, render.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, store.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

// writeError writes err with its mapped status. Client errors carry their
// message; server errors are logged and hidden.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := errorx.UserMessage(err, "")
	if msg == "" {
		if status < http.StatusInternalServerError {
			msg = err.Error()
		} else {
			msg = http.StatusText(status)
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("api: %v", err)
	}
	writeJSONError(w, msg, status)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, data); err != nil {
		logger.Debugf("api: write response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes a bounded request body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", errBadRequest)
	}
	return nil
}
