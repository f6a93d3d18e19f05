package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	_ "github.com/mattn/go-sqlite3"

	"anonchat/internal/logger"
)

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db   *sql.DB
	keys *pushKeyGenerator

	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens or creates the database at dbPath. ":memory:" gives a
// private in-memory database.
func NewSQLite(dbPath string) (*SQLite, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{
		db:   db,
		keys: newPushKeyGenerator(),
		subs: make(map[string]map[*Subscription]struct{}),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close ends every subscription and closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var all []*Subscription
	for _, set := range s.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, key)
		);`,
		`CREATE TABLE IF NOT EXISTS idempotency (
			token TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_created ON idempotency(created_at);`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Push stores v under a new key in a collection.
func (s *SQLite) Push(ctx context.Context, path string, v any) (string, error) {
	collection, err := collectionPath(path)
	if err != nil {
		return "", err
	}
	value, err := encode(v)
	if err != nil {
		return "", err
	}

	key := s.keys.next()
	if err := s.put(ctx, s.db, collection, key, value); err != nil {
		return "", err
	}
	s.notify(collection)
	return key, nil
}

// PushOnce stores v once per idempotency key.
func (s *SQLite) PushOnce(ctx context.Context, path, idempotencyKey string, v any) (string, error) {
	if idempotencyKey == "" {
		return s.Push(ctx, path, v)
	}
	collection, err := collectionPath(path)
	if err != nil {
		return "", err
	}
	value, err := encode(v)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		"SELECT key FROM idempotency WHERE token = ? AND collection = ?",
		idempotencyKey, collection,
	).Scan(&existing)
	switch {
	case err == nil:
		logger.Debugf("store: duplicate push to %s, returning %s", collection, existing)
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("lookup idempotency key: %w", err)
	}

	key := s.keys.next()
	if err := s.put(ctx, tx, collection, key, value); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO idempotency (token, collection, key, created_at) VALUES (?, ?, ?, ?)",
		idempotencyKey, collection, key, time.Now().UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("record idempotency key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	s.notify(collection)
	return key, nil
}

// Set replaces the value at a child path.
func (s *SQLite) Set(ctx context.Context, path string, v any) error {
	collection, key, err := childPath(path)
	if err != nil {
		return err
	}
	value, err := encode(v)
	if err != nil {
		return err
	}
	if err := s.put(ctx, s.db, collection, key, value); err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

// Update merges fields into the document at a child path, creating it
// when missing.
func (s *SQLite) Update(ctx context.Context, path string, fields map[string]any) error {
	collection, key, err := childPath(path)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	doc := map[string]any{}
	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT value FROM nodes WHERE collection = ? AND key = ?", collection, key,
	).Scan(&raw)
	switch {
	case err == nil:
		var existing any
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if m, ok := existing.(map[string]any); ok {
			doc = m
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("read %s: %w", path, err)
	}

	for field, v := range fields {
		if err := setField(doc, field, v); err != nil {
			return err
		}
	}

	value, err := encode(doc)
	if err != nil {
		return err
	}
	if err := s.put(ctx, tx, collection, key, value); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.notify(collection)
	return nil
}

// Remove deletes a child or a whole collection.
func (s *SQLite) Remove(ctx context.Context, path string) error {
	collection, key, err := splitPath(path)
	if err != nil {
		return err
	}

	if key == "" {
		_, err = s.db.ExecContext(ctx, "DELETE FROM nodes WHERE collection = ?", collection)
	} else {
		_, err = s.db.ExecContext(ctx, "DELETE FROM nodes WHERE collection = ? AND key = ?", collection, key)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	s.notify(collection)
	return nil
}

// Get decodes the value at a child path, or the whole collection as an
// object keyed by child key.
func (s *SQLite) Get(ctx context.Context, path string, out any) error {
	collection, key, err := splitPath(path)
	if err != nil {
		return err
	}

	if key == "" {
		children, err := s.children(ctx, collection, Query{})
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return ErrNotFound
		}
		obj := make(map[string]jsontext.Value, len(children))
		for _, c := range children {
			obj[c.Key] = c.Value
		}
		raw, err := json.Marshal(obj, json.Deterministic(true))
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		return json.Unmarshal(raw, out)
	}

	var raw string
	err = s.db.QueryRowContext(ctx,
		"SELECT value FROM nodes WHERE collection = ? AND key = ?", collection, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Once returns the children of a collection selected by q.
func (s *SQLite) Once(ctx context.Context, path string, q Query) (Snapshot, error) {
	collection, err := collectionPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	children, err := s.children(ctx, collection, q)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: collection, Children: children}, nil
}

// Subscribe streams snapshots of a collection until ctx ends or the
// subscription is closed.
func (s *SQLite) Subscribe(ctx context.Context, path string, q Query) (*Subscription, error) {
	collection, err := collectionPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newSubscription(ctx, collection, func(ctx context.Context) (Snapshot, error) {
		return s.Once(ctx, collection, q)
	}, func(sub *Subscription) {
		s.unsubscribe(collection, sub)
	})
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[*Subscription]struct{})
	}
	s.subs[collection][sub] = struct{}{}
	s.mu.Unlock()

	go sub.run()
	return sub, nil
}

// PurgeIdempotencyKeys forgets idempotency keys older than cutoff.
func (s *SQLite) PurgeIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM idempotency WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns the number of children per collection.
func (s *SQLite) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT collection, COUNT(*) FROM nodes GROUP BY collection")
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var collection string
		var n int
		if err := rows.Scan(&collection, &n); err != nil {
			return nil, err
		}
		stats[collection] = n
	}
	return stats, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) put(ctx context.Context, db execer, collection, key string, value []byte) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO nodes (collection, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		collection, key, string(value), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLite) children(ctx context.Context, collection string, q Query) ([]Child, error) {
	query := "SELECT key, value FROM nodes WHERE collection = ?"
	args := []any{collection}
	if q.byKey() {
		if start, ok := q.StartAt.(string); ok {
			query += " AND key >= ?"
			args = append(args, start)
		}
		if end, ok := q.EndAt.(string); ok {
			query += " AND key <= ?"
			args = append(args, end)
		}
	}
	query += " ORDER BY key"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var children []Child
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		children = append(children, Child{Key: key, Value: jsontext.Value(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	return q.apply(children), nil
}

func (s *SQLite) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[collection] {
		sub.signal()
	}
}

func (s *SQLite) unsubscribe(collection string, sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[collection], sub)
	if len(s.subs[collection]) == 0 {
		delete(s.subs, collection)
	}
}

func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v, json.Deterministic(true))
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return raw, nil
}

// setField assigns v to a "/"-separated field of doc, creating
// intermediate objects. A nil v deletes the field.
func setField(doc map[string]any, field string, v any) error {
	parts := strings.Split(strings.Trim(field, "/"), "/")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		if part == "" {
			return fmt.Errorf("%w: field %q", ErrInvalidPath, field)
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}

	last := parts[len(parts)-1]
	if last == "" {
		return fmt.Errorf("%w: field %q", ErrInvalidPath, field)
	}
	if v == nil {
		delete(cur, last)
		return nil
	}
	cur[last] = v
	return nil
}
