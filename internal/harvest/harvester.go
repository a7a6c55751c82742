package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	idgen "github.com/JakeFAU/novel-harvester/internal/id/uuid"
	"github.com/JakeFAU/novel-harvester/internal/progress"
	"github.com/JakeFAU/novel-harvester/internal/store"
)

// Config tunes a Harvester.
type Config struct {
	// DefaultBatchSize applies when a run does not request a batch size.
	DefaultBatchSize int
	// BufferRetention mirrors the store's retention limit and is only used to
	// warn when a batch cannot be fully recovered after a crash.
	BufferRetention int
}

// Harvester runs batch harvests and manual checkpoints. One Harvester may
// serve many collections concurrently; each collection is serialized.
type Harvester struct {
	cfg       Config
	store     store.Store
	fetcher   Fetcher
	artifacts ArtifactStore
	emitter   progress.Emitter
	logger    *zap.Logger

	locks *Locker
	runs  runGuard

	now      func() time.Time
	newRunID func() uuid.UUID
}

// New wires a Harvester. A nil emitter discards events; a nil logger is
// replaced with a no-op logger.
func New(
	cfg Config,
	st store.Store,
	fetcher Fetcher,
	artifacts ArtifactStore,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Harvester {
	cfg.DefaultBatchSize = ResolveBatchSize(cfg.DefaultBatchSize)
	if cfg.BufferRetention <= 0 {
		cfg.BufferRetention = store.DefaultBufferRetention
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{
		cfg:       cfg,
		store:     st,
		fetcher:   fetcher,
		artifacts: artifacts,
		emitter:   emitter,
		logger:    logger,
		locks:     NewLocker(),
		now:       func() time.Time { return time.Now().UTC() },
		newRunID:  newRunID,
	}
}

func newRunID() uuid.UUID {
	id, err := idgen.New().NewRawID()
	if err != nil {
		return uuid.New()
	}
	return id
}

// Summary reports what a run did.
type Summary struct {
	RunID        uuid.UUID  `json:"run_id"`
	CollectionID string     `json:"collection_id"`
	BatchSize    int        `json:"batch_size"`
	Total        int        `json:"total"`
	Resumed      int        `json:"resumed"`
	Fetched      int        `json:"fetched"`
	Artifacts    []Artifact `json:"artifacts"`
	Completed    bool       `json:"completed"`
}

// Running reports whether a run for the collection is in flight.
func (h *Harvester) Running(collectionID string) bool {
	return h.runs.isRunning(collectionID)
}

// Progress returns the persisted record for a collection.
func (h *Harvester) Progress(ctx context.Context, collectionID string) (store.Record, error) {
	unlock := h.locks.Lock(collectionID)
	defer unlock()
	rec, err := h.store.Load(ctx, collectionID)
	if err != nil {
		return store.Record{}, fmt.Errorf("load progress %s: %w", collectionID, err)
	}
	return rec, nil
}

// Status is what is known about one collection.
type Status struct {
	CollectionID string
	Running      bool
	// Record is nil when no harvest is in progress.
	Record *store.Record
	// Completion is nil until a harvest has finished.
	Completion *store.Completion
}

// Known reports whether anything has been recorded for the collection.
func (s Status) Known() bool {
	return s.Running || s.Record != nil || s.Completion != nil
}

// Status loads the progress record and completion marker of a collection.
func (h *Harvester) Status(ctx context.Context, collectionID string) (Status, error) {
	st := Status{CollectionID: collectionID, Running: h.runs.isRunning(collectionID)}
	unlock := h.locks.Lock(collectionID)
	defer unlock()

	rec, err := h.store.Load(ctx, collectionID)
	switch {
	case err == nil:
		st.Record = &rec
	case !errors.Is(err, store.ErrNotFound):
		return Status{}, fmt.Errorf("load progress %s: %w", collectionID, err)
	}
	done, err := h.store.LoadCompletion(ctx, collectionID)
	switch {
	case err == nil:
		st.Completion = &done
	case !errors.Is(err, store.ErrNotFound):
		return Status{}, fmt.Errorf("load completion %s: %w", collectionID, err)
	}
	return st, nil
}

// Reset forgets everything recorded for a collection so the next run starts
// from the first item. It refuses while a run is in flight.
func (h *Harvester) Reset(ctx context.Context, collectionID string) error {
	if h.runs.isRunning(collectionID) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, collectionID)
	}
	unlock := h.locks.Lock(collectionID)
	defer unlock()
	if err := h.store.Delete(ctx, collectionID); err != nil {
		return fmt.Errorf("%w: delete progress: %w", ErrPersistFailed, err)
	}
	if err := h.store.ClearCompletion(ctx, collectionID); err != nil {
		return fmt.Errorf("%w: clear completion: %w", ErrPersistFailed, err)
	}
	h.logger.Info("harvest state reset", zap.String("collection_id", collectionID))
	return nil
}

// ReportError publishes err as the error event for collectionID. It covers
// failures that happen before Run, such as loading the collection page or
// resetting its progress.
func (h *Harvester) ReportError(collectionID string, err error) {
	if err == nil {
		return
	}
	h.logger.Warn("harvest failed before start", zap.String("collection_id", collectionID), zap.Error(err))
	progress.NewReporter(h.emitter, collectionID, h.newRunID()).Error(err)
}

// Run harvests coll from its resume point to the end. batchSize is used as
// given; range checks belong to whoever reads the setting, and a value of
// zero or less selects the configured default. Every failure is reported as
// one error event and returned.
func (h *Harvester) Run(ctx context.Context, coll Collection, batchSize int) (Summary, error) {
	runID := h.newRunID()
	rep := progress.NewReporter(h.emitter, coll.ID, runID)
	summary := Summary{RunID: runID, CollectionID: coll.ID, Total: len(coll.Items)}
	logger := h.logger.With(zap.String("collection_id", coll.ID), zap.String("run_id", runID.String()))

	if err := coll.Validate(); err != nil {
		rep.Error(err)
		return summary, err
	}
	if !h.runs.acquire(coll.ID) {
		err := fmt.Errorf("%w: %s", ErrAlreadyRunning, coll.ID)
		rep.Error(err)
		return summary, err
	}
	defer h.runs.release(coll.ID)

	if batchSize <= 0 {
		batchSize = h.cfg.DefaultBatchSize
	}
	summary.BatchSize = batchSize

	r := &run{
		h:       h,
		coll:    coll,
		size:    summary.BatchSize,
		rep:     rep,
		logger:  logger,
		summary: &summary,
	}
	if err := r.execute(ctx); err != nil {
		var itemErr *ItemError
		if errors.As(err, &itemErr) {
			logger.Error("harvest aborted", zap.Int("item", itemErr.Index+1), zap.String("url", itemErr.Item.URL), zap.Error(err))
		} else {
			logger.Error("harvest aborted", zap.Error(err))
		}
		rep.Error(err)
		return summary, err
	}
	logger.Info("harvest complete",
		zap.Int("fetched", summary.Fetched),
		zap.Int("resumed", summary.Resumed),
		zap.Int("artifacts", len(summary.Artifacts)))
	return summary, nil
}
