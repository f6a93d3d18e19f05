package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Level represents a log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	currentLevel Level = LevelInfo
	mu           sync.RWMutex
)

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLevel sets the global log level from a string.
// Unknown values fall back to info.
func SetLevel(level string) {
	l, err := ParseLevel(level)

	mu.Lock()
	changed := currentLevel != l
	currentLevel = l
	mu.Unlock()

	if err != nil {
		log.Printf("[WARN] %v, using info", err)
	}
	if changed {
		log.Printf("[INFO] Log level set to: %s", l)
	}
}

// GetLevel returns the current log level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// Enabled reports whether messages at l are printed.
func Enabled(l Level) bool {
	return GetLevel() <= l
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	if Enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	if Enabled(LevelInfo) {
		log.Printf("[INFO] "+format, args...)
	}
}

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) {
	if Enabled(LevelWarn) {
		log.Printf("[WARN] "+format, args...)
	}
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}
