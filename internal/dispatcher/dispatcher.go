// Package dispatcher accepts harvest submissions and fans queued work out to
// a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/novel-harvester/internal/queue"
	"github.com/JakeFAU/novel-harvester/internal/worker"
)

// IDGenerator creates job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Request is a harvest submission.
type Request struct {
	URL       string
	BatchSize int
	Restart   bool
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	jobs    queue.JobStore
	ids     IDGenerator
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(q queue.Queue, jobs queue.JobStore, ids IDGenerator, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		jobs:    jobs,
		ids:     ids,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit records a queued job and enqueues it. A job whose enqueue fails is
// marked failed so it never lingers as queued.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (queue.Job, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return queue.Job{}, fmt.Errorf("job id: %w", err)
	}
	job := queue.Job{
		ID:        id,
		URL:       req.URL,
		BatchSize: req.BatchSize,
		Restart:   req.Restart,
		Status:    queue.JobStatusQueued,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return queue.Job{}, fmt.Errorf("create job: %w", err)
	}
	item := queue.Item{JobID: id, URL: req.URL, BatchSize: req.BatchSize, Restart: req.Restart}
	if err := d.Enqueue(ctx, item); err != nil {
		_ = d.jobs.UpdateJobStatus(context.WithoutCancel(ctx), id, queue.JobStatusFailed, err.Error(), queue.JobResult{})
		return queue.Job{}, err
	}
	return d.jobs.GetJob(ctx, id)
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item queue.Item) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Job returns the recorded state of a job.
func (d *Dispatcher) Job(ctx context.Context, jobID string) (queue.Job, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return queue.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
