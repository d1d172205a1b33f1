package domain

import "time"

type ArtifactRole string

const (
	RoleUploaded  ArtifactRole = "uploaded"
	RoleConverted ArtifactRole = "converted"
)

// Artifact is an immutable stored file. Once committed its bytes and
// metadata never change; a conversion always yields a new artifact.
type Artifact struct {
	ID               string             `json:"id"`
	SessionID        string             `json:"session_id"`
	Filename         string             `json:"filename"`
	Format           string             `json:"format"`
	MIME             string             `json:"mime_type"`
	Size             int64              `json:"size"`
	Checksum         string             `json:"checksum,omitempty"`
	Role             ArtifactRole       `json:"role"`
	SourceArtifactID string             `json:"source_artifact_id,omitempty"`
	Options          *ConversionOptions `json:"options,omitempty"`
	Encoding         string             `json:"encoding,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	ExpiresAt        time.Time          `json:"expires_at"`
}

func (a *Artifact) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

type ArtifactRef struct {
	ID   string
	Size int64
}

type ExpiredPage struct {
	IDs  []string
	Next string
}
