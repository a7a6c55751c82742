package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// DefaultBufferRetention caps how many content blocks a persisted record keeps.
const DefaultBufferRetention = 50

// Record is the durable snapshot of an in-flight harvest.
type Record struct {
	// CollectionID keys the record.
	CollectionID string
	// Title is the collection title used for artifact names.
	Title string
	// CompletedItemRefs is the ordered ledger of fetched item URLs. It only grows.
	CompletedItemRefs []string
	// BufferedContent holds the formatted blocks not yet flushed, oldest first.
	BufferedContent []string
	// LastUpdate is stamped by the harvester on every save.
	LastUpdate time.Time
}

// Completed reports how many items the ledger holds.
func (r Record) Completed() int {
	return len(r.CompletedItemRefs)
}

// Completion marks a collection whose harvest finished. The ledger is kept so
// a later run can pick up items that were published afterwards.
type Completion struct {
	CollectionID      string
	Title             string
	CompletedItemRefs []string
	CompletedAt       time.Time
}

// Store persists progress records and completion markers. Every operation is
// idempotent; concurrent writers resolve last-write-wins.
type Store interface {
	// Save writes the record, truncating BufferedContent to the retention limit.
	Save(ctx context.Context, rec Record) error
	// Load returns the record or ErrNotFound.
	Load(ctx context.Context, collectionID string) (Record, error)
	// Delete removes the record. Missing records are not an error.
	Delete(ctx context.Context, collectionID string) error

	// MarkComplete upserts the completion marker.
	MarkComplete(ctx context.Context, c Completion) error
	// LoadCompletion returns the marker or ErrNotFound.
	LoadCompletion(ctx context.Context, collectionID string) (Completion, error)
	// ClearCompletion removes the marker. Missing markers are not an error.
	ClearCompletion(ctx context.Context, collectionID string) error
}

// RetainTail returns a copy of the last limit blocks. A non-positive limit
// falls back to DefaultBufferRetention.
func RetainTail(blocks []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultBufferRetention
	}
	if len(blocks) > limit {
		blocks = blocks[len(blocks)-limit:]
	}
	out := make([]string, len(blocks))
	copy(out, blocks)
	return out
}
