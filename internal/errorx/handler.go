package errorx

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"anonchat/internal/logger"
)

// ErrorLevel represents the severity of an error
type ErrorLevel int

const (
	// InfoLevel for informational messages
	InfoLevel ErrorLevel = iota
	// WarningLevel for warnings
	WarningLevel
	// ErrLevel for errors
	ErrLevel
	// CriticalLevel for critical errors
	CriticalLevel
)

// Handler provides centralized error handling
type Handler struct {
	// RecoveryEnabled determines if panics should be recovered
	RecoveryEnabled bool
	// LogStackTraces determines if stack traces should be logged
	LogStackTraces bool
	// OnCritical callback for critical errors
	OnCritical func(error)
}

// NewHandler creates a new error handler
func NewHandler() *Handler {
	return &Handler{
		RecoveryEnabled: true,
		LogStackTraces:  true,
	}
}

// Handle logs an error at the given level
func (h *Handler) Handle(err error, level ErrorLevel, msg string) {
	if err == nil {
		return
	}

	switch level {
	case InfoLevel:
		logger.Infof("%s: %v", msg, err)
	case WarningLevel:
		logger.Warnf("%s: %v", msg, err)
	case ErrLevel:
		logger.Errorf("%s: %v", msg, err)
		if h.LogStackTraces {
			logger.Debugf("stack trace:\n%s", debug.Stack())
		}
	case CriticalLevel:
		logger.Errorf("CRITICAL %s: %v", msg, err)
		if h.OnCritical != nil {
			h.OnCritical(err)
		}
	}
}

// HandleWithRecovery runs fn and turns a panic into an error
func (h *Handler) HandleWithRecovery(fn func() error) (err error) {
	if !h.RecoveryEnabled {
		return fn()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			h.Handle(err, CriticalLevel, "Panic recovered")
			if h.LogStackTraces {
				logger.Debugf("stack trace:\n%s", err.(*PanicError).Stack)
			}
		}
	}()

	return fn()
}

// HandleWithTimeout runs a function with a timeout
func (h *Handler) HandleWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.HandleWithRecovery(func() error { return fn(ctx) })
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		err := fmt.Errorf("operation timed out after %v", timeout)
		h.Handle(err, ErrLevel, "Timeout")
		return err
	}
}

// Go runs fn in a goroutine that logs instead of crashing on panic
func (h *Handler) Go(name string, fn func()) {
	go func() {
		_ = h.HandleWithRecovery(func() error {
			fn()
			return nil
		})
		logger.Debugf("%s: goroutine finished", name)
	}()
}

// PanicError carries a recovered panic value
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// IsPanic reports whether err came from a recovered panic
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// UserError represents an error that can be shown to users
type UserError struct {
	Message string
	Err     error
}

// Error implements the error interface
func (e UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped error to errors.Is
func (e UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error
func NewUserError(msg string, err error) UserError {
	return UserError{Message: msg, Err: err}
}

// IsUserError checks if err is or wraps a UserError
func IsUserError(err error) bool {
	var ue UserError
	return errors.As(err, &ue)
}

// UserMessage returns the message to show for err, or fallback when err
// carries none.
func UserMessage(err error, fallback string) string {
	var ue UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return fallback
}

// DefaultHandler is the default error handler instance
var DefaultHandler = NewHandler()

// Handle is a convenience function using the default handler
func Handle(err error, level ErrorLevel, msg string) {
	DefaultHandler.Handle(err, level, msg)
}

// HandleWithRecovery is a convenience function using the default handler
func HandleWithRecovery(fn func() error) error {
	return DefaultHandler.HandleWithRecovery(fn)
}

// Go is a convenience function using the default handler
func Go(name string, fn func()) {
	DefaultHandler.Go(name, fn)
}
