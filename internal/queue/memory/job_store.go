package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/novel-harvester/internal/queue"
)

// JobStore keeps harvest jobs in memory for the lifetime of the process.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]queue.Job
	now  func() time.Time
}

var _ queue.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]queue.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if job.Status == "" {
		job.Status = queue.JobStatusQueued
	}
	if job.Created.IsZero() {
		job.Created = s.now()
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus moves a job to status, stamping start and finish times.
// Terminal jobs are never moved again.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status queue.JobStatus,
	errText string,
	result queue.JobResult,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	job.Status = status
	job.Error = errText
	if result.CollectionID != "" {
		job.CollectionID = result.CollectionID
	}
	if result.Title != "" {
		job.Title = result.Title
	}
	if result.Summary != nil {
		summary := *result.Summary
		job.Summary = &summary
	}
	now := s.now()
	if status == queue.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (queue.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return queue.Job{}, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
