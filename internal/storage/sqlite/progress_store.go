// Package sqlite provides a single-file progress store built on the pure-Go
// modernc SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/novel-harvester/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS harvest_progress (
	collection_id       TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	completed_item_refs TEXT NOT NULL,
	buffered_content    TEXT NOT NULL,
	last_update         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS harvest_completions (
	collection_id       TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	completed_item_refs TEXT NOT NULL,
	completed_at        TEXT NOT NULL
);`

// ProgressStore implements store.Store on a SQLite database.
type ProgressStore struct {
	db        *sql.DB
	retention int
}

var _ store.Store = (*ProgressStore)(nil)

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string, retention int) (*ProgressStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	if retention <= 0 {
		retention = store.DefaultBufferRetention
	}
	return &ProgressStore{db: db, retention: retention}, nil
}

// Close releases the database handle.
func (s *ProgressStore) Close() error {
	return s.db.Close()
}

// Save implements store.Store.
func (s *ProgressStore) Save(ctx context.Context, rec store.Record) error {
	refs, err := encodeList(rec.CompletedItemRefs)
	if err != nil {
		return err
	}
	blocks, err := encodeList(store.RetainTail(rec.BufferedContent, s.retention))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO harvest_progress
	(collection_id, title, completed_item_refs, buffered_content, last_update)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(collection_id) DO UPDATE SET
	title = excluded.title,
	completed_item_refs = excluded.completed_item_refs,
	buffered_content = excluded.buffered_content,
	last_update = excluded.last_update`,
		rec.CollectionID, rec.Title, refs, blocks, formatTime(rec.LastUpdate))
	if err != nil {
		return fmt.Errorf("save progress %s: %w", rec.CollectionID, err)
	}
	return nil
}

// Load implements store.Store.
func (s *ProgressStore) Load(ctx context.Context, collectionID string) (store.Record, error) {
	rec := store.Record{CollectionID: collectionID}
	var refs, blocks, stamp string
	err := s.db.QueryRowContext(ctx, `SELECT title, completed_item_refs, buffered_content, last_update
FROM harvest_progress WHERE collection_id = ?`, collectionID).Scan(&rec.Title, &refs, &blocks, &stamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("load progress %s: %w", collectionID, err)
	}
	if rec.CompletedItemRefs, err = decodeList(refs); err != nil {
		return store.Record{}, err
	}
	if rec.BufferedContent, err = decodeList(blocks); err != nil {
		return store.Record{}, err
	}
	if rec.LastUpdate, err = parseTime(stamp); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

// Delete implements store.Store.
func (s *ProgressStore) Delete(ctx context.Context, collectionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM harvest_progress WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("delete progress %s: %w", collectionID, err)
	}
	return nil
}

// MarkComplete implements store.Store.
func (s *ProgressStore) MarkComplete(ctx context.Context, c store.Completion) error {
	refs, err := encodeList(c.CompletedItemRefs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO harvest_completions
	(collection_id, title, completed_item_refs, completed_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(collection_id) DO UPDATE SET
	title = excluded.title,
	completed_item_refs = excluded.completed_item_refs,
	completed_at = excluded.completed_at`,
		c.CollectionID, c.Title, refs, formatTime(c.CompletedAt))
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", c.CollectionID, err)
	}
	return nil
}

// LoadCompletion implements store.Store.
func (s *ProgressStore) LoadCompletion(ctx context.Context, collectionID string) (store.Completion, error) {
	c := store.Completion{CollectionID: collectionID}
	var refs, stamp string
	err := s.db.QueryRowContext(ctx, `SELECT title, completed_item_refs, completed_at
FROM harvest_completions WHERE collection_id = ?`, collectionID).Scan(&c.Title, &refs, &stamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Completion{}, store.ErrNotFound
		}
		return store.Completion{}, fmt.Errorf("load completion %s: %w", collectionID, err)
	}
	if c.CompletedItemRefs, err = decodeList(refs); err != nil {
		return store.Completion{}, err
	}
	if c.CompletedAt, err = parseTime(stamp); err != nil {
		return store.Completion{}, err
	}
	return c, nil
}

// ClearCompletion implements store.Store.
func (s *ProgressStore) ClearCompletion(ctx context.Context, collectionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM harvest_completions WHERE collection_id = ?`, collectionID); err != nil {
		return fmt.Errorf("clear completion %s: %w", collectionID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}

func decodeList(raw string) ([]string, error) {
	values := []string{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return values, nil
}
