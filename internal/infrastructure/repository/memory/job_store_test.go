package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

func TestJobStoreTransitionGuardsStatus(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = s.Create(ctx, &domain.Job{ID: "j1", Status: domain.JobPending, CreatedAt: now, UpdatedAt: now})

	err := s.Transition(ctx, "j1", []domain.JobStatus{domain.JobPending}, &domain.Job{Status: domain.JobCancelled, UpdatedAt: now})
	if err != nil {
		t.Fatalf("cancel pending job: %v", err)
	}
	err = s.Transition(ctx, "j1", []domain.JobStatus{domain.JobPending}, &domain.Job{Status: domain.JobProcessing, UpdatedAt: now})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected cancelled job to refuse processing, got %v", err)
	}
}

func TestJobStoreDeleteFinishedBefore(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	_ = s.Create(ctx, &domain.Job{ID: "done", Status: domain.JobSucceeded, UpdatedAt: old})
	_ = s.Create(ctx, &domain.Job{ID: "waiting", Status: domain.JobPending, UpdatedAt: old})

	n, err := s.DeleteFinishedBefore(ctx, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("DeleteFinishedBefore() = %d, %v", n, err)
	}
	if _, err := s.Get(ctx, "waiting"); err != nil {
		t.Fatalf("pending job must survive: %v", err)
	}
}
