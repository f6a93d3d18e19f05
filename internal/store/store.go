// Package store is the key-value event log the chat feed lives in.
//
// Paths have one or two segments: a collection ("messages") or a child of
// a collection ("messages/<key>"). Values are JSON documents.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

var (
	// ErrNotFound is returned by Get when nothing is stored at the path.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPath is returned for malformed paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrClosed is returned after the store was closed.
	ErrClosed = errors.New("store closed")
)

// Store is a key-value event log with change subscriptions.
type Store interface {
	// Push appends v under a new chronologically ordered key.
	Push(ctx context.Context, path string, v any) (string, error)
	// PushOnce is Push that returns the existing key when idempotencyKey was
	// used before, so retried writes are stored once.
	PushOnce(ctx context.Context, path, idempotencyKey string, v any) (string, error)
	// Set replaces the value at a child path.
	Set(ctx context.Context, path string, v any) error
	// Update merges fields into the document at a child path. Field names
	// may contain "/" to reach nested values; a nil value deletes the field.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Remove deletes a child, or every child of a collection.
	Remove(ctx context.Context, path string) error
	// Get decodes the value at path into out.
	Get(ctx context.Context, path string, out any) error
	// Once returns the current children of a collection.
	Once(ctx context.Context, path string, q Query) (Snapshot, error)
	// Subscribe streams snapshots of a collection: the current one first,
	// then a fresh one after every write under the path.
	Subscribe(ctx context.Context, path string, q Query) (*Subscription, error)
}

// Query selects and orders the children of a collection.
type Query struct {
	// OrderBy is "$key" (default), "$value" or a child field name; nested
	// fields use "/".
	OrderBy string
	// StartAt and EndAt bound the ordered values, inclusive. nil is open.
	StartAt any
	EndAt   any
	// LimitToLast keeps the last n children after filtering. Zero keeps all.
	LimitToLast int
}

const (
	OrderByKey   = "$key"
	OrderByValue = "$value"
)

// Child is one entry of a snapshot.
type Child struct {
	Key   string
	Value jsontext.Value
}

// Decode unmarshals the child value into out.
func (c Child) Decode(out any) error {
	if err := json.Unmarshal(c.Value, out); err != nil {
		return fmt.Errorf("decode %s: %w", c.Key, err)
	}
	return nil
}

// Snapshot is the ordered content of a collection at one point in time.
type Snapshot struct {
	Path     string
	Children []Child
}

// Len returns the number of children.
func (s Snapshot) Len() int {
	return len(s.Children)
}

// Keys returns the child keys in order.
func (s Snapshot) Keys() []string {
	keys := make([]string, len(s.Children))
	for i, c := range s.Children {
		keys[i] = c.Key
	}
	return keys
}

// Decode unmarshals every child with decode, stopping at the first error.
func Decode[T any](s Snapshot) ([]T, error) {
	out := make([]T, 0, len(s.Children))
	for _, c := range s.Children {
		var v T
		if err := c.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Join builds a child path.
func Join(collection, key string) string {
	return collection + "/" + key
}

// RemoveKeys removes several children of one collection.
func RemoveKeys(ctx context.Context, s Store, collection string, keys []string) error {
	for _, key := range keys {
		if err := s.Remove(ctx, Join(collection, key)); err != nil {
			return err
		}
	}
	return nil
}

const forbiddenKeyChars = ".#$[]/"

// splitPath returns the collection and, for child paths, the key.
func splitPath(path string) (collection, key string, err error) {
	path = strings.Trim(path, "/")
	collection, key, _ = strings.Cut(path, "/")
	if collection == "" || strings.ContainsAny(collection, forbiddenKeyChars) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if strings.ContainsAny(key, forbiddenKeyChars) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return collection, key, nil
}

func childPath(path string) (collection, key string, err error) {
	collection, key, err = splitPath(path)
	if err != nil {
		return "", "", err
	}
	if key == "" {
		return "", "", fmt.Errorf("%w: %q is not a child path", ErrInvalidPath, path)
	}
	return collection, key, nil
}

func collectionPath(path string) (string, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if key != "" {
		return "", fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, path)
	}
	return collection, nil
}
