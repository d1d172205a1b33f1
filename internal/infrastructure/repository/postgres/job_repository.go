package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal job options: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO conversion_jobs (
	id, session_id, owner_identity, artifact_id, output_format, options, status,
	result_artifact_id, error_code, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		job.ID, job.SessionID, job.Owner, job.ArtifactID, job.OutputFormat, optionsJSON, string(job.Status),
		job.ResultArtifactID, job.ErrorCode, job.ErrorMessage, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, session_id, owner_identity, artifact_id, output_format, options, status,
	result_artifact_id, error_code, error_message, created_at, updated_at
FROM conversion_jobs
WHERE id = $1
`, id)

	var job domain.Job
	var optionsRaw []byte
	var status string
	err := row.Scan(
		&job.ID, &job.SessionID, &job.Owner, &job.ArtifactID, &job.OutputFormat, &optionsRaw, &status,
		&job.ResultArtifactID, &job.ErrorCode, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(optionsRaw, &job.Options); err != nil {
		return nil, fmt.Errorf("unmarshal job options: %w", err)
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

// Transition updates the job only while its status is one of from; a lost
// race reports ErrInvalidInput.
func (r *JobRepository) Transition(ctx context.Context, id string, from []domain.JobStatus, next *domain.Job) error {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}
	allowedJSON, err := json.Marshal(allowed)
	if err != nil {
		return fmt.Errorf("marshal allowed statuses: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE conversion_jobs
SET status = $2, result_artifact_id = $3, error_code = $4, error_message = $5, updated_at = $6
WHERE id = $1 AND status IN (SELECT jsonb_array_elements_text($7::jsonb))
`, id, string(next.Status), next.ResultArtifactID, next.ErrorCode, next.ErrorMessage, next.UpdatedAt, allowedJSON)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "transition job", fmt.Errorf("job %s is not in %v", id, allowed))
	}
	return nil
}

func (r *JobRepository) DeleteFinishedBefore(ctx context.Context, ts time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM conversion_jobs
WHERE status IN ('succeeded','failed','cancelled') AND updated_at < $1
`, ts)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs rows affected: %w", err)
	}
	return rows, nil
}
