// Package worker executes queued harvest jobs.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/harvest"
	"github.com/JakeFAU/novel-harvester/internal/queue"
)

// CollectionLoader resolves a collection page into its item list.
type CollectionLoader interface {
	CheckURL(collectionURL string) (string, error)
	LoadCollection(ctx context.Context, collectionURL string) (harvest.Collection, error)
}

// Runner runs and resets harvests. *harvest.Harvester satisfies it.
type Runner interface {
	Run(ctx context.Context, coll harvest.Collection, batchSize int) (harvest.Summary, error)
	Reset(ctx context.Context, collectionID string) error
	ReportError(collectionID string, err error)
}

// Worker consumes queue items and runs one harvest at a time.
type Worker struct {
	queue  queue.Queue
	jobs   queue.JobStore
	loader CollectionLoader
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, jobs queue.JobStore, loader CollectionLoader, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  q,
		jobs:   jobs,
		loader: loader,
		runner: runner,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item queue.Item) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.URL))

	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, queue.JobStatusRunning, "", queue.JobResult{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	result, err := w.harvest(ctx, item)
	status, errText := deriveFinalStatus(ctx, err)
	if err != nil {
		logger.Warn("harvest job ended with error", zap.String("status", string(status)), zap.Error(err))
	} else {
		logger.Info("harvest job finished", zap.String("collection_id", result.CollectionID))
	}

	// Record the outcome even when shutdown canceled the run.
	if err := w.jobs.UpdateJobStatus(context.WithoutCancel(ctx), item.JobID, status, errText, result); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
}

func (w *Worker) harvest(ctx context.Context, item queue.Item) (queue.JobResult, error) {
	coll, err := w.loader.LoadCollection(ctx, item.URL)
	if err != nil {
		err = fmt.Errorf("load collection: %w", err)
		if id, idErr := w.loader.CheckURL(item.URL); idErr == nil {
			w.runner.ReportError(id, err)
			return queue.JobResult{CollectionID: id}, err
		}
		return queue.JobResult{}, err
	}
	result := queue.JobResult{CollectionID: coll.ID, Title: coll.Title}
	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, queue.JobStatusRunning, "", result); err != nil {
		w.logger.Warn("record collection on job failed", zap.String("job_id", item.JobID), zap.Error(err))
	}

	if item.Restart {
		if err := w.runner.Reset(ctx, coll.ID); err != nil {
			err = fmt.Errorf("reset progress: %w", err)
			w.runner.ReportError(coll.ID, err)
			return result, err
		}
	}

	summary, err := w.runner.Run(ctx, coll, item.BatchSize)
	result.Summary = &summary
	if err != nil {
		return result, err
	}
	return result, nil
}

func deriveFinalStatus(ctx context.Context, err error) (queue.JobStatus, string) {
	switch {
	case err == nil:
		return queue.JobStatusSucceeded, ""
	case ctx.Err() != nil:
		return queue.JobStatusCanceled, err.Error()
	default:
		return queue.JobStatusFailed, err.Error()
	}
}
