package ports

import (
	"context"
	"io"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// ConversionService is the inbound contract for upload, conversion and
// retrieval of artifacts.
type ConversionService interface {
	Upload(ctx context.Context, req domain.UploadRequest) (*domain.Artifact, error)
	Convert(ctx context.Context, req domain.ConvertRequest) (*domain.ConversionResult, error)
	Download(ctx context.Context, artifactID string, caller domain.Caller) (io.ReadCloser, *domain.Artifact, error)
	Delete(ctx context.Context, artifactID string, caller domain.Caller) error
}

// SessionService is the inbound contract for session listing and lifecycle.
type SessionService interface {
	Session(ctx context.Context, caller domain.Caller) (*domain.Session, []domain.Artifact, error)
	ResetSession(ctx context.Context, caller domain.Caller) (int, error)
	CloseSession(ctx context.Context, caller domain.Caller) error
}

// CapabilityReader exposes the conversion matrix.
type CapabilityReader interface {
	Formats() []domain.Format
	Matrix() map[string][]string
	OptionsFor(from, to string) ([]domain.OptionSpec, error)
}

// JobService is the inbound contract for asynchronous conversions.
type JobService interface {
	Submit(ctx context.Context, req domain.ConvertRequest) (*domain.Job, error)
	Get(ctx context.Context, jobID string, caller domain.Caller) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string, caller domain.Caller) (*domain.Job, error)
}

// JobProcessor runs one queued job.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}
