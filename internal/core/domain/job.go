package domain

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// Job is an asynchronous conversion request processed by a worker.
type Job struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"session_id"`
	Owner            string            `json:"-"`
	ArtifactID       string            `json:"artifact_id"`
	OutputFormat     string            `json:"output_format"`
	Options          ConversionOptions `json:"options"`
	Status           JobStatus         `json:"status"`
	ResultArtifactID string            `json:"result_artifact_id,omitempty"`
	ErrorCode        string            `json:"error_code,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
