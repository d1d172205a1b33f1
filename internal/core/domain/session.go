package domain

import (
	"regexp"
	"time"
)

const maxIDLength = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID reports whether id is a safe opaque identifier for sessions and
// artifacts.
func ValidID(id string) bool {
	return len(id) <= maxIDLength && idPattern.MatchString(id)
}

type Session struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner,omitempty"`
	ArtifactIDs    []string  `json:"artifact_ids"`
	FileCount      int       `json:"file_count"`
	TotalBytes     int64     `json:"total_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OwnedBy reports whether a caller with the given identity may act on the
// session. Anonymous sessions are reachable by session id alone.
func (s *Session) OwnedBy(identity string) bool {
	return s.Owner == "" || s.Owner == identity
}

type Quota struct {
	MaxFiles int
	MaxBytes int64
}

// Caller identifies who is acting: the session they present and the
// authenticated identity, if any.
type Caller struct {
	SessionID string
	Identity  string
}
