package harvest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/progress"
	"github.com/JakeFAU/novel-harvester/internal/store"
)

// SaveCurrentProgress emits the persisted buffer of a collection as a
// "{title}_部分" artifact without touching the ledger or batch counters. It
// may be called while a run is in flight.
func (h *Harvester) SaveCurrentProgress(ctx context.Context, collectionID string) (Artifact, error) {
	rep := progress.NewReporter(h.emitter, collectionID, h.newRunID())
	art, err := h.checkpoint(ctx, collectionID)
	if err != nil {
		h.logger.Warn("checkpoint failed", zap.String("collection_id", collectionID), zap.Error(err))
		rep.Error(err)
		return Artifact{}, err
	}
	rep.PartialComplete(0, art.URI)
	h.logger.Info("checkpoint written",
		zap.String("collection_id", collectionID),
		zap.String("uri", art.URI),
		zap.Int("blocks", art.Blocks))
	return art, nil
}

func (h *Harvester) checkpoint(ctx context.Context, collectionID string) (Artifact, error) {
	unlock := h.locks.Lock(collectionID)
	defer unlock()

	rec, err := h.store.Load(ctx, collectionID)
	if errors.Is(err, store.ErrNotFound) {
		return Artifact{}, ErrNoProgressToSave
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("load progress: %w", err)
	}
	if len(rec.BufferedContent) == 0 {
		return Artifact{}, ErrNoProgressToSave
	}

	art := Artifact{Name: CheckpointArtifactName(rec.Title), Blocks: len(rec.BufferedContent)}
	if err := putArtifact(ctx, h.artifacts, &art, titledContent(rec.Title, rec.BufferedContent)); err != nil {
		return Artifact{}, err
	}
	return art, nil
}
