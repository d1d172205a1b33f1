package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// SessionLedger keeps sessions in PostgreSQL. Quota checks lock the session
// row, so concurrent attaches across api and worker processes serialize.
type SessionLedger struct {
	db    *sql.DB
	ttl   time.Duration
	quota domain.Quota
	now   func() time.Time
}

func NewSessionLedger(db *sql.DB, ttl time.Duration, quota domain.Quota) *SessionLedger {
	return &SessionLedger{
		db:    db,
		ttl:   ttl,
		quota: quota,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *SessionLedger) Touch(ctx context.Context, sessionID, owner string) (*domain.Session, error) {
	now := l.now()
	_, err := l.db.ExecContext(ctx, `
INSERT INTO conversion_sessions (id, owner_identity, created_at, last_activity_at, expires_at)
VALUES ($1,$2,$3,$3,$4)
ON CONFLICT (id) DO UPDATE SET last_activity_at = EXCLUDED.last_activity_at
WHERE conversion_sessions.expires_at > EXCLUDED.last_activity_at
`, sessionID, owner, now, now.Add(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	sess, err := l.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(now) {
		return nil, domain.WrapError(domain.ErrNotFound, "touch session", fmt.Errorf("session %s expired", sessionID))
	}
	return sess, nil
}

func (l *SessionLedger) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, owner_identity, file_count, total_bytes, created_at, last_activity_at, expires_at
FROM conversion_sessions
WHERE id = $1
`, sessionID)

	var sess domain.Session
	err := row.Scan(&sess.ID, &sess.Owner, &sess.FileCount, &sess.TotalBytes, &sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get session", fmt.Errorf("id=%s", sessionID))
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT artifact_id FROM session_artifacts WHERE session_id = $1 ORDER BY artifact_id
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session artifacts: %w", err)
	}
	defer rows.Close()

	sess.ArtifactIDs = make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session artifact: %w", err)
		}
		sess.ArtifactIDs = append(sess.ArtifactIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session artifacts: %w", err)
	}
	return &sess, nil
}

func (l *SessionLedger) Attach(ctx context.Context, sessionID string, ref domain.ArtifactRef) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attach tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var fileCount int
	var totalBytes int64
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `
SELECT file_count, total_bytes, expires_at
FROM conversion_sessions
WHERE id = $1
FOR UPDATE
`, sessionID).Scan(&fileCount, &totalBytes, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrNotFound, "attach artifact", fmt.Errorf("session %s", sessionID))
		}
		return fmt.Errorf("lock session: %w", err)
	}

	now := l.now()
	if !now.Before(expiresAt) {
		return domain.WrapError(domain.ErrNotFound, "attach artifact", fmt.Errorf("session %s expired", sessionID))
	}
	// Re-attaching a known artifact is a no-op; a quota failure below rolls
	// the insert back.
	res, err := tx.ExecContext(ctx, `
INSERT INTO session_artifacts (artifact_id, session_id, size_bytes, attached_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (artifact_id) DO NOTHING
`, ref.ID, sessionID, ref.Size, now)
	if err != nil {
		return fmt.Errorf("insert session artifact: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert session artifact: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	if l.quota.MaxFiles > 0 && fileCount+1 > l.quota.MaxFiles {
		return domain.NewFailure(domain.ErrQuotaExceeded, "session file limit of %d reached", l.quota.MaxFiles)
	}
	if l.quota.MaxBytes > 0 && totalBytes+ref.Size > l.quota.MaxBytes {
		return domain.NewFailure(domain.ErrQuotaExceeded, "session storage limit of %d bytes reached", l.quota.MaxBytes)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE conversion_sessions
SET file_count = file_count + 1, total_bytes = total_bytes + $2, last_activity_at = $3
WHERE id = $1
`, sessionID, ref.Size, now); err != nil {
		return fmt.Errorf("update session usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attach tx: %w", err)
	}
	return nil
}

// Detach is a no-op when the artifact is not attached to the session.
func (l *SessionLedger) Detach(ctx context.Context, sessionID, artifactID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin detach tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var size int64
	err = tx.QueryRowContext(ctx, `
DELETE FROM session_artifacts
WHERE artifact_id = $1 AND session_id = $2
RETURNING size_bytes
`, artifactID, sessionID).Scan(&size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("delete session artifact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE conversion_sessions
SET file_count = file_count - 1, total_bytes = total_bytes - $2
WHERE id = $1
`, sessionID, size); err != nil {
		return fmt.Errorf("release session usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit detach tx: %w", err)
	}
	return nil
}

func (l *SessionLedger) OwnerOf(ctx context.Context, artifactID string) (string, error) {
	var sessionID string
	err := l.db.QueryRowContext(ctx, `
SELECT session_id FROM session_artifacts WHERE artifact_id = $1
`, artifactID).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrNotFound, "owner of", fmt.Errorf("artifact %s", artifactID))
		}
		return "", fmt.Errorf("owner of artifact: %w", err)
	}
	return sessionID, nil
}

func (l *SessionLedger) ExpireOlderThan(ctx context.Context, ts time.Time, after string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id FROM conversion_sessions
WHERE expires_at <= $1 AND id > $2
ORDER BY id
LIMIT $3
`, ts, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}

func (l *SessionLedger) Remove(ctx context.Context, sessionID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM conversion_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
