package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// ArtifactStore persists immutable artifact bytes and their metadata.
type ArtifactStore interface {
	Put(ctx context.Context, meta domain.Artifact, body io.Reader) (*domain.Artifact, error)
	Get(ctx context.Context, id string) (io.ReadCloser, *domain.Artifact, error)
	Stat(ctx context.Context, id string) (*domain.Artifact, error)
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, before time.Time, cursor string, limit int) (domain.ExpiredPage, error)
}

// SessionLedger tracks sessions, their artifacts and quota usage.
type SessionLedger interface {
	Touch(ctx context.Context, sessionID, owner string) (*domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Attach(ctx context.Context, sessionID string, ref domain.ArtifactRef) error
	Detach(ctx context.Context, sessionID, artifactID string) error
	OwnerOf(ctx context.Context, artifactID string) (string, error)
	ExpireOlderThan(ctx context.Context, ts time.Time, after string, limit int) ([]string, error)
	Remove(ctx context.Context, sessionID string) error
}

// Converter is one conversion backend.
type Converter interface {
	Declaration() domain.BackendDeclaration
	Convert(ctx context.Context, in domain.ConversionInput) ([]byte, error)
}

// JobStore persists asynchronous conversion jobs.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Transition moves a job from one of the allowed statuses to the next one.
	Transition(ctx context.Context, id string, from []domain.JobStatus, next *domain.Job) error
	DeleteFinishedBefore(ctx context.Context, ts time.Time) (int64, error)
}

// JobQueue publishes/consumes job ids.
type JobQueue interface {
	PublishJob(ctx context.Context, jobID string) error
	SubscribeJobs(ctx context.Context, handler func(context.Context, string) error) error
}

// ConversionRecorder receives one observation per finished conversion.
type ConversionRecorder interface {
	ObserveConversion(backend domain.BackendID, outcome string, duration time.Duration)
}

// SweepRecorder receives the totals of one cleanup pass.
type SweepRecorder interface {
	ObserveSweep(deletedArtifacts, removedSessions, purgedJobs, failures int, duration time.Duration)
}
