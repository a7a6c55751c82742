package harvest

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// flush emits the pending blocks as one artifact. On success the buffers are
// cleared (never the ledger), the batch number advances and, for interior
// batches, the emptied buffer is persisted. On failure nothing changes.
func (r *run) flush(ctx context.Context, final bool) error {
	unlock := r.h.locks.Lock(r.coll.ID)
	defer unlock()

	art := Artifact{BatchNumber: r.batchNumber, Final: final, Blocks: len(r.pending)}
	var content string
	if final {
		art.Name = FinalArtifactName(r.coll.Title)
		if r.incremental {
			// keep the earlier terminal artifact intact
			art.Name = fmt.Sprintf("%s_%d", art.Name, len(r.ledger))
		}
		content = titledContent(r.coll.Title, r.pending)
	} else {
		art.Name = BatchArtifactName(r.coll.Title, r.batchNumber)
		content = batchContent(r.pending)
	}
	if err := putArtifact(ctx, r.h.artifacts, &art, content); err != nil {
		return err
	}

	r.summary.Artifacts = append(r.summary.Artifacts, art)
	r.pending = nil
	r.batchNumber++
	r.batchCount = 0
	r.logger.Info("artifact written",
		zap.String("artifact", art.Name),
		zap.String("uri", art.URI),
		zap.Int("blocks", art.Blocks))
	if final {
		return nil
	}
	r.rep.PartialComplete(art.BatchNumber, art.URI)
	return r.save(ctx)
}
