package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/file-converter/internal/core/domain"
	"github.com/kirillkom/file-converter/internal/core/ports"
)

type JobUseCase struct {
	conversions *ConversionUseCase
	jobs        ports.JobStore
	queue       ports.JobQueue
	logger      *slog.Logger
	now         func() time.Time
	onClaim     func(lag time.Duration)
	onFinish    func(job domain.Job, elapsed time.Duration)
}

func NewJobUseCase(conversions *ConversionUseCase, jobs ports.JobStore, queue ports.JobQueue, logger *slog.Logger) *JobUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobUseCase{
		conversions: conversions,
		jobs:        jobs,
		queue:       queue,
		logger:      logger.With("component", "jobs"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithQueueLagObserver reports, for every claimed job, how long it waited
// between submission and processing.
func (uc *JobUseCase) WithQueueLagObserver(fn func(lag time.Duration)) *JobUseCase {
	uc.onClaim = fn
	return uc
}

// WithFinishObserver receives every job whose result was recorded, with the
// time spent between claim and completion.
func (uc *JobUseCase) WithFinishObserver(fn func(job domain.Job, elapsed time.Duration)) *JobUseCase {
	uc.onFinish = fn
	return uc
}

// Submit checks ownership and the requested pair before queuing, so a job
// that can never succeed is rejected immediately.
func (uc *JobUseCase) Submit(ctx context.Context, req domain.ConvertRequest) (*domain.Job, error) {
	src, _, err := uc.conversions.authorize(ctx, "submit job", req.ArtifactID, req.Caller)
	if err != nil {
		return nil, err
	}
	to := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(req.OutputFormat)), ".")
	if _, err := uc.conversions.registry.ResolveBackend(src.Format, to); err != nil {
		return nil, err
	}
	from, _ := uc.conversions.registry.Lookup(src.Format)
	target, _ := uc.conversions.registry.Lookup(to)
	if err := uc.conversions.registry.ValidateOptions(from, target, req.Options); err != nil {
		return nil, err
	}

	now := uc.now()
	job := &domain.Job{
		ID:           uuid.NewString(),
		SessionID:    req.Caller.SessionID,
		Owner:        req.Caller.Identity,
		ArtifactID:   src.ID,
		OutputFormat: target.ID,
		Options:      req.Options,
		Status:       domain.JobPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := uc.jobs.Create(ctx, job); err != nil {
		return nil, domain.WrapError(domain.ErrInternal, "create job", err)
	}
	if err := uc.queue.PublishJob(ctx, job.ID); err != nil {
		failed := *job
		failed.Status = domain.JobFailed
		failed.ErrorCode = domain.Code(domain.ErrBackendUnavailable)
		failed.ErrorMessage = "job queue is unavailable"
		failed.UpdatedAt = uc.now()
		if tErr := uc.jobs.Transition(context.WithoutCancel(ctx), job.ID, []domain.JobStatus{domain.JobPending}, &failed); tErr != nil {
			uc.logger.Error("job_publish_rollback_failed", "job_id", job.ID, "error", tErr)
		}
		uc.logger.Error("job_publish_failed", "job_id", job.ID, "error", err)
		return nil, domain.NewFailure(domain.ErrBackendUnavailable, "job queue is unavailable, try again later")
	}
	uc.logger.Info("job_submitted", "job_id", job.ID, "artifact_id", job.ArtifactID, "output_format", job.OutputFormat)
	return job, nil
}

func (uc *JobUseCase) Get(ctx context.Context, jobID string, caller domain.Caller) (*domain.Job, error) {
	if !domain.ValidID(jobID) {
		return nil, domain.NewFailure(domain.ErrNotFound, "job not found")
	}
	job, err := uc.jobs.Get(ctx, jobID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, domain.NewFailure(domain.ErrNotFound, "job not found")
		}
		return nil, domain.WrapError(domain.ErrInternal, "load job", err)
	}
	if job.SessionID != caller.SessionID || (job.Owner != "" && job.Owner != caller.Identity) {
		return nil, domain.NewFailure(domain.ErrForbidden, "job belongs to another session")
	}
	return job, nil
}

// Cancel stops a job that has not started yet.
func (uc *JobUseCase) Cancel(ctx context.Context, jobID string, caller domain.Caller) (*domain.Job, error) {
	job, err := uc.Get(ctx, jobID, caller)
	if err != nil {
		return nil, err
	}
	next := *job
	next.Status = domain.JobCancelled
	next.UpdatedAt = uc.now()
	if err := uc.jobs.Transition(ctx, job.ID, []domain.JobStatus{domain.JobPending}, &next); err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			current, getErr := uc.jobs.Get(ctx, job.ID)
			if getErr == nil {
				return nil, domain.NewFailure(domain.ErrInvalidInput, "job is already %s", current.Status)
			}
			return nil, domain.NewFailure(domain.ErrInvalidInput, "job can no longer be cancelled")
		}
		return nil, domain.WrapError(domain.ErrInternal, "cancel job", err)
	}
	uc.logger.Info("job_cancelled", "job_id", job.ID)
	return &next, nil
}

// Process runs a queued job. Conversion failures are recorded on the job
// and are not returned; only bookkeeping errors are.
func (uc *JobUseCase) Process(ctx context.Context, jobID string) error {
	job, err := uc.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.WrapError(domain.KindOf(err), "process job", err)
	}
	if job.Status != domain.JobPending {
		uc.logger.Info("job_skipped", "job_id", job.ID, "status", job.Status)
		return nil
	}

	processing := *job
	processing.Status = domain.JobProcessing
	processing.UpdatedAt = uc.now()
	if err := uc.jobs.Transition(ctx, job.ID, []domain.JobStatus{domain.JobPending}, &processing); err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			uc.logger.Info("job_skipped", "job_id", job.ID, "reason", "claimed or cancelled")
			return nil
		}
		return domain.WrapError(domain.ErrInternal, "claim job", err)
	}
	if uc.onClaim != nil {
		uc.onClaim(processing.UpdatedAt.Sub(job.CreatedAt))
	}

	result, convErr := uc.conversions.Convert(ctx, domain.ConvertRequest{
		Caller:       domain.Caller{SessionID: job.SessionID, Identity: job.Owner},
		ArtifactID:   job.ArtifactID,
		OutputFormat: job.OutputFormat,
		Options:      job.Options,
	})

	done := processing
	done.UpdatedAt = uc.now()
	if convErr != nil {
		done.Status = domain.JobFailed
		done.ErrorCode = domain.Code(convErr)
		done.ErrorMessage = domain.PublicMessage(convErr)
	} else {
		done.Status = domain.JobSucceeded
		done.ResultArtifactID = result.Artifact.ID
	}
	if err := uc.jobs.Transition(context.WithoutCancel(ctx), job.ID, []domain.JobStatus{domain.JobProcessing}, &done); err != nil {
		return domain.WrapError(domain.ErrInternal, "record job result", err)
	}
	if uc.onFinish != nil {
		uc.onFinish(done, done.UpdatedAt.Sub(processing.UpdatedAt))
	}
	uc.logger.Info("job_finished", "job_id", job.ID, "status", done.Status, "error_code", done.ErrorCode)
	return nil
}
