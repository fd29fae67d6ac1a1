// Package memory provides the in-process job store.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

// JobStore keeps every job record in memory, keyed by identifier. Reads take
// a snapshot copy so pollers never observe a half-written slot. Records live
// for the process lifetime; there is no eviction.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*fetch.Job
	clock fetch.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock fetch.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]*fetch.Job),
		clock: clock,
	}
}

// CreateJob registers a new pending job with one empty slot per URL.
func (s *JobStore) CreateJob(_ context.Context, job fetch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	stored := job
	stored.URLs = append([]string(nil), job.URLs...)
	stored.Results = make([]*fetch.Result, len(job.URLs))
	stored.Completed = 0
	s.jobs[job.ID] = &stored
	return nil
}

// MarkRunning transitions a pending job to running and stamps Started.
func (s *JobStore) MarkRunning(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fetch.ErrJobNotFound
	}
	if job.Status != fetch.JobStatusPending {
		return nil
	}
	job.Status = fetch.JobStatusRunning
	job.Started = pointerTime(s.clock.Now())
	return nil
}

// SetResult writes exactly one slot and bumps the completed counter under
// the store lock, so no increment is ever lost across concurrent workers.
// Writing the final slot moves the job to completed.
func (s *JobStore) SetResult(_ context.Context, jobID string, slot int, result fetch.Result) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, fetch.ErrJobNotFound
	}
	if slot < 0 || slot >= len(job.Results) {
		return false, errors.New("result slot out of range")
	}
	if job.Results[slot] != nil {
		return false, errors.New("result slot already written")
	}
	stored := result
	job.Results[slot] = &stored
	job.Completed++
	if job.Completed == len(job.Results) {
		job.Status = fetch.JobStatusCompleted
		job.Finished = pointerTime(s.clock.Now())
		return true, nil
	}
	return false, nil
}

// FailAll writes every empty slot with the given error kind and completes
// the job. Used when infrastructure fails before workers can start.
func (s *JobStore) FailAll(_ context.Context, jobID string, kind fetch.ErrorKind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fetch.ErrJobNotFound
	}
	for i, slot := range job.Results {
		if slot != nil {
			continue
		}
		job.Results[i] = &fetch.Result{
			URL:          job.URLs[i],
			Status:       fetch.ResultError,
			ErrorKind:    kind,
			ErrorMessage: message,
		}
		job.Completed++
	}
	job.Status = fetch.JobStatusCompleted
	job.Finished = pointerTime(s.clock.Now())
	return nil
}

// GetJob returns a consistent snapshot of the job at read time.
func (s *JobStore) GetJob(_ context.Context, jobID string) (fetch.JobView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fetch.JobView{}, fetch.ErrJobNotFound
	}
	results := make([]*fetch.Result, len(job.Results))
	for i, r := range job.Results {
		if r == nil {
			continue
		}
		cp := *r
		results[i] = &cp
	}
	return fetch.JobView{
		JobID:         job.ID,
		Status:        job.Status,
		Results:       results,
		TotalURLs:     len(job.URLs),
		CompletedURLs: job.Completed,
		Submitted:     job.Submitted,
		Started:       copyTime(job.Started),
		Finished:      copyTime(job.Finished),
	}, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
