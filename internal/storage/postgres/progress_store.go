// Package postgres provides a Postgres-backed progress store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/novel-harvester/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS harvest_progress (
	collection_id       TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	completed_item_refs JSONB NOT NULL,
	buffered_content    JSONB NOT NULL,
	last_update         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS harvest_completions (
	collection_id       TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	completed_item_refs JSONB NOT NULL,
	completed_at        TIMESTAMPTZ NOT NULL
);`

const (
	upsertProgressSQL = `INSERT INTO harvest_progress (collection_id, title, completed_item_refs, buffered_content, last_update)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (collection_id) DO UPDATE
SET title = EXCLUDED.title,
	completed_item_refs = EXCLUDED.completed_item_refs,
	buffered_content = EXCLUDED.buffered_content,
	last_update = EXCLUDED.last_update`
	selectProgressSQL = `SELECT title, completed_item_refs, buffered_content, last_update
FROM harvest_progress WHERE collection_id = $1`
	deleteProgressSQL = `DELETE FROM harvest_progress WHERE collection_id = $1`

	upsertCompletionSQL = `INSERT INTO harvest_completions (collection_id, title, completed_item_refs, completed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (collection_id) DO UPDATE
SET title = EXCLUDED.title,
	completed_item_refs = EXCLUDED.completed_item_refs,
	completed_at = EXCLUDED.completed_at`
	selectCompletionSQL = `SELECT title, completed_item_refs, completed_at
FROM harvest_completions WHERE collection_id = $1`
	deleteCompletionSQL = `DELETE FROM harvest_completions WHERE collection_id = $1`
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// BufferRetention caps persisted content blocks (store.DefaultBufferRetention when <= 0).
	BufferRetention int
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ProgressStore implements store.Store on two tables keyed by collection id.
type ProgressStore struct {
	pool      pool
	retention int
}

var _ store.Store = (*ProgressStore)(nil)

// NewProgressStore connects to Postgres and ensures the schema exists.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewProgressStoreWithPool(p, cfg.BufferRetention)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(p pool, retention int) (*ProgressStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if retention <= 0 {
		retention = store.DefaultBufferRetention
	}
	return &ProgressStore{pool: p, retention: retention}, nil
}

// EnsureSchema creates the progress and completion tables when missing.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure progress schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
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
	_, err = s.pool.Exec(ctx, upsertProgressSQL, rec.CollectionID, rec.Title, refs, blocks, rec.LastUpdate.UTC())
	if err != nil {
		return fmt.Errorf("save progress %s: %w", rec.CollectionID, err)
	}
	return nil
}

// Load implements store.Store.
func (s *ProgressStore) Load(ctx context.Context, collectionID string) (store.Record, error) {
	rec := store.Record{CollectionID: collectionID}
	var refs, blocks []byte
	err := s.pool.QueryRow(ctx, selectProgressSQL, collectionID).Scan(&rec.Title, &refs, &blocks, &rec.LastUpdate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	return rec, nil
}

// Delete implements store.Store.
func (s *ProgressStore) Delete(ctx context.Context, collectionID string) error {
	if _, err := s.pool.Exec(ctx, deleteProgressSQL, collectionID); err != nil {
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
	_, err = s.pool.Exec(ctx, upsertCompletionSQL, c.CollectionID, c.Title, refs, c.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", c.CollectionID, err)
	}
	return nil
}

// LoadCompletion implements store.Store.
func (s *ProgressStore) LoadCompletion(ctx context.Context, collectionID string) (store.Completion, error) {
	c := store.Completion{CollectionID: collectionID}
	var refs []byte
	err := s.pool.QueryRow(ctx, selectCompletionSQL, collectionID).Scan(&c.Title, &refs, &c.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Completion{}, store.ErrNotFound
		}
		return store.Completion{}, fmt.Errorf("load completion %s: %w", collectionID, err)
	}
	if c.CompletedItemRefs, err = decodeList(refs); err != nil {
		return store.Completion{}, err
	}
	return c, nil
}

// ClearCompletion implements store.Store.
func (s *ProgressStore) ClearCompletion(ctx context.Context, collectionID string) error {
	if _, err := s.pool.Exec(ctx, deleteCompletionSQL, collectionID); err != nil {
		return fmt.Errorf("clear completion %s: %w", collectionID, err)
	}
	return nil
}

func encodeList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return raw, nil
}

func decodeList(raw []byte) ([]string, error) {
	var values []string
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return values, nil
}
