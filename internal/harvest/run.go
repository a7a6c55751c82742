package harvest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/progress"
	"github.com/JakeFAU/novel-harvester/internal/store"
)

// run is the mutable state of one Harvester.Run call.
type run struct {
	h       *Harvester
	coll    Collection
	size    int
	rep     *progress.Reporter
	logger  *zap.Logger
	summary *Summary

	ledger []string
	// pending accumulates formatted blocks since the last flush. The store
	// keeps only its retention tail; the in-memory copy is complete.
	pending     []string
	batchNumber int
	batchCount  int
	hasRecord   bool
	// incremental is set when a finished collection gained new items.
	incremental bool
}

func (r *run) execute(ctx context.Context) error {
	if err := r.restore(ctx); err != nil {
		return err
	}
	items := r.coll.Items
	total := len(items)
	start := len(r.ledger)
	r.summary.Resumed = start

	if start > 0 && start < total && r.batchCount == 0 && len(r.pending) > 0 {
		// The boundary flush of the previous run did not complete.
		r.batchNumber--
		r.logger.Info("retrying pending batch flush", zap.Int("batch_number", r.batchNumber))
		if err := r.flush(ctx, false); err != nil {
			return err
		}
	}

	for i := start; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("harvest interrupted before item %d: %w", i+1, err)
		}
		item := items[i]
		r.rep.Progress(i, total)
		r.rep.Status(fmt.Sprintf("downloading %s (%d/%d)", item.Title, i+1, total))

		content, err := r.h.fetcher.Fetch(ctx, item)
		if err != nil {
			itemErr := &ItemError{Index: i, Item: item, Err: classifyFetchError(err)}
			if r.hasRecord || len(r.ledger) > 0 {
				if perr := r.persist(ctx); perr != nil {
					return errors.Join(itemErr, perr)
				}
			}
			return itemErr
		}

		r.ledger = append(r.ledger, item.URL)
		r.pending = append(r.pending, FormatBlock(item, content))
		r.batchCount++
		r.summary.Fetched++
		if err := r.persist(ctx); err != nil {
			return err
		}
		if r.batchCount >= r.size {
			if err := r.flush(ctx, false); err != nil {
				return err
			}
		}
	}
	return r.finish(ctx)
}

// restore seeds the run from the progress record, or from the completion
// marker when a finished collection is harvested again.
func (r *run) restore(ctx context.Context) error {
	unlock := r.h.locks.Lock(r.coll.ID)
	defer unlock()

	rec, err := r.h.store.Load(ctx, r.coll.ID)
	switch {
	case err == nil:
		r.hasRecord = true
		r.ledger = rec.CompletedItemRefs
		r.pending = rec.BufferedContent
	case errors.Is(err, store.ErrNotFound):
		done, cerr := r.h.store.LoadCompletion(ctx, r.coll.ID)
		switch {
		case cerr == nil:
			r.ledger = done.CompletedItemRefs
			r.incremental = len(r.ledger) > 0
		case !errors.Is(cerr, store.ErrNotFound):
			return fmt.Errorf("load completion marker: %w", cerr)
		}
	default:
		return fmt.Errorf("load progress: %w", err)
	}

	completed := len(r.ledger)
	r.batchNumber = completed/r.size + 1
	r.batchCount = completed % r.size
	r.checkLedger()
	if r.hasRecord && r.batchCount > len(r.pending) {
		r.logger.Warn("buffered content was truncated, next artifact will be incomplete",
			zap.Int("items_since_flush", r.batchCount),
			zap.Int("blocks_retained", len(r.pending)),
			zap.Int("buffer_retention", r.h.cfg.BufferRetention))
	}
	if completed > 0 {
		r.logger.Info("resuming harvest",
			zap.Int("completed", completed),
			zap.Int("total", len(r.coll.Items)),
			zap.Int("batch_number", r.batchNumber))
	}
	return nil
}

// checkLedger warns when the stored ledger no longer lines up with the
// collection. The ledger stays authoritative either way.
func (r *run) checkLedger() {
	if len(r.ledger) > len(r.coll.Items) {
		r.logger.Warn("ledger is longer than the collection",
			zap.Int("ledger", len(r.ledger)), zap.Int("items", len(r.coll.Items)))
		return
	}
	for i, ref := range r.ledger {
		if r.coll.Items[i].URL != ref {
			r.logger.Warn("ledger diverges from collection order",
				zap.Int("item", i+1), zap.String("ledger_url", ref), zap.String("item_url", r.coll.Items[i].URL))
			return
		}
	}
}

func (r *run) persist(ctx context.Context) error {
	unlock := r.h.locks.Lock(r.coll.ID)
	defer unlock()
	return r.save(ctx)
}

// save writes the record; callers hold the collection lock.
func (r *run) save(ctx context.Context) error {
	err := r.h.store.Save(ctx, store.Record{
		CollectionID:      r.coll.ID,
		Title:             r.coll.Title,
		CompletedItemRefs: r.ledger,
		BufferedContent:   r.pending,
		LastUpdate:        r.h.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	r.hasRecord = true
	return nil
}

func (r *run) finish(ctx context.Context) error {
	if len(r.pending) > 0 {
		if err := r.flush(ctx, true); err != nil {
			return err
		}
	}

	unlock := r.h.locks.Lock(r.coll.ID)
	defer unlock()
	if err := r.h.store.Delete(ctx, r.coll.ID); err != nil {
		return fmt.Errorf("%w: delete progress: %w", ErrPersistFailed, err)
	}
	err := r.h.store.MarkComplete(ctx, store.Completion{
		CollectionID:      r.coll.ID,
		Title:             r.coll.Title,
		CompletedItemRefs: r.ledger,
		CompletedAt:       r.h.now(),
	})
	if err != nil {
		r.logger.Warn("record completion marker", zap.Error(err))
	}
	r.summary.Completed = true
	r.rep.Complete()
	return nil
}
