// Package mongo provides a MongoDB-backed progress store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/novel-harvester/internal/store"
)

const (
	progressCollection   = "harvest_progress"
	completionCollection = "harvest_completions"
	connectTimeout       = 10 * time.Second
)

// Config controls the MongoDB connection.
type Config struct {
	URI             string
	Database        string
	BufferRetention int
}

type progressDoc struct {
	CollectionID      string    `bson:"_id"`
	Title             string    `bson:"title"`
	CompletedItemRefs []string  `bson:"completed_item_refs"`
	BufferedContent   []string  `bson:"buffered_content"`
	LastUpdate        time.Time `bson:"last_update"`
}

type completionDoc struct {
	CollectionID      string    `bson:"_id"`
	Title             string    `bson:"title"`
	CompletedItemRefs []string  `bson:"completed_item_refs"`
	CompletedAt       time.Time `bson:"completed_at"`
}

// ProgressStore implements store.Store with one document per collection id.
type ProgressStore struct {
	client      *mongo.Client
	progress    *mongo.Collection
	completions *mongo.Collection
	retention   int
}

var _ store.Store = (*ProgressStore)(nil)

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongo uri and database are required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(dialCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := NewWithDatabase(client.Database(cfg.Database), cfg.BufferRetention)
	s.client = client
	return s, nil
}

// NewWithDatabase builds a store on an existing database handle.
func NewWithDatabase(db *mongo.Database, retention int) *ProgressStore {
	if retention <= 0 {
		retention = store.DefaultBufferRetention
	}
	return &ProgressStore{
		progress:    db.Collection(progressCollection),
		completions: db.Collection(completionCollection),
		retention:   retention,
	}
}

// Close disconnects the client when the store owns it.
func (s *ProgressStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// Save implements store.Store.
func (s *ProgressStore) Save(ctx context.Context, rec store.Record) error {
	doc := progressDoc{
		CollectionID:      rec.CollectionID,
		Title:             rec.Title,
		CompletedItemRefs: nonNil(rec.CompletedItemRefs),
		BufferedContent:   store.RetainTail(rec.BufferedContent, s.retention),
		LastUpdate:        rec.LastUpdate.UTC(),
	}
	_, err := s.progress.ReplaceOne(ctx, bson.M{"_id": rec.CollectionID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save progress %s: %w", rec.CollectionID, err)
	}
	return nil
}

// Load implements store.Store.
func (s *ProgressStore) Load(ctx context.Context, collectionID string) (store.Record, error) {
	var doc progressDoc
	if err := s.progress.FindOne(ctx, bson.M{"_id": collectionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("load progress %s: %w", collectionID, err)
	}
	return store.Record{
		CollectionID:      doc.CollectionID,
		Title:             doc.Title,
		CompletedItemRefs: nonNil(doc.CompletedItemRefs),
		BufferedContent:   nonNil(doc.BufferedContent),
		LastUpdate:        doc.LastUpdate,
	}, nil
}

// Delete implements store.Store.
func (s *ProgressStore) Delete(ctx context.Context, collectionID string) error {
	if _, err := s.progress.DeleteOne(ctx, bson.M{"_id": collectionID}); err != nil {
		return fmt.Errorf("delete progress %s: %w", collectionID, err)
	}
	return nil
}

// MarkComplete implements store.Store.
func (s *ProgressStore) MarkComplete(ctx context.Context, c store.Completion) error {
	doc := completionDoc{
		CollectionID:      c.CollectionID,
		Title:             c.Title,
		CompletedItemRefs: nonNil(c.CompletedItemRefs),
		CompletedAt:       c.CompletedAt.UTC(),
	}
	_, err := s.completions.ReplaceOne(ctx, bson.M{"_id": c.CollectionID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", c.CollectionID, err)
	}
	return nil
}

// LoadCompletion implements store.Store.
func (s *ProgressStore) LoadCompletion(ctx context.Context, collectionID string) (store.Completion, error) {
	var doc completionDoc
	if err := s.completions.FindOne(ctx, bson.M{"_id": collectionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Completion{}, store.ErrNotFound
		}
		return store.Completion{}, fmt.Errorf("load completion %s: %w", collectionID, err)
	}
	return store.Completion{
		CollectionID:      doc.CollectionID,
		Title:             doc.Title,
		CompletedItemRefs: nonNil(doc.CompletedItemRefs),
		CompletedAt:       doc.CompletedAt,
	}, nil
}

// ClearCompletion implements store.Store.
func (s *ProgressStore) ClearCompletion(ctx context.Context, collectionID string) error {
	if _, err := s.completions.DeleteOne(ctx, bson.M{"_id": collectionID}); err != nil {
		return fmt.Errorf("clear completion %s: %w", collectionID, err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
