// Package queue defines harvest requests, their job records and the queue
// workers consume them from.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/novel-harvester/internal/harvest"
)

// ErrClosed is returned once a queue has been closed.
var ErrClosed = errors.New("queue closed")

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Item is a harvest request waiting for a worker.
type Item struct {
	JobID     string
	URL       string
	BatchSize int
	// Restart discards stored progress before the run.
	Restart bool
}

// Queue hands items to workers.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (Item, error)
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job statuses.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Job tracks one submitted harvest.
type Job struct {
	ID           string           `json:"job_id"`
	URL          string           `json:"url"`
	BatchSize    int              `json:"batch_size,omitempty"`
	Restart      bool             `json:"restart,omitempty"`
	Status       JobStatus        `json:"status"`
	CollectionID string           `json:"collection_id,omitempty"`
	Title        string           `json:"title,omitempty"`
	Error        string           `json:"error,omitempty"`
	Summary      *harvest.Summary `json:"summary,omitempty"`
	Created      time.Time        `json:"created_at"`
	Started      *time.Time       `json:"started_at,omitempty"`
	Finished     *time.Time       `json:"finished_at,omitempty"`
}

// JobResult carries what a worker learned about a job. Empty fields leave
// the stored values untouched.
type JobResult struct {
	CollectionID string
	Title        string
	Summary      *harvest.Summary
}

// JobStore records job state for the API.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, result JobResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}
