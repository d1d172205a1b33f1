package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// JobStore keeps jobs in process memory; used when no database is configured.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]domain.Job)}
}

func (s *JobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *JobStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get job", fmt.Errorf("id=%s", id))
	}
	return &job, nil
}

func (s *JobStore) Transition(_ context.Context, id string, from []domain.JobStatus, next *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "transition job", fmt.Errorf("id=%s", id))
	}
	if !slices.Contains(from, job.Status) {
		return domain.WrapError(domain.ErrInvalidInput, "transition job", fmt.Errorf("job %s is %s", id, job.Status))
	}
	job.Status = next.Status
	job.ResultArtifactID = next.ResultArtifactID
	job.ErrorCode = next.ErrorCode
	job.ErrorMessage = next.ErrorMessage
	job.UpdatedAt = next.UpdatedAt
	s.jobs[id] = job
	return nil
}

func (s *JobStore) DeleteFinishedBefore(_ context.Context, ts time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(ts) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}
