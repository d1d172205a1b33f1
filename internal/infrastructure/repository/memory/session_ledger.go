package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

const shardCount = 32

type entry struct {
	mu        sync.Mutex
	removed   bool
	session   domain.Session
	artifacts map[string]int64
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// SessionLedger is an in-process session ledger. Sessions live in hashed shards
// and each session has its own lock, so attaches to unrelated sessions
// never contend.
type SessionLedger struct {
	ttl   time.Duration
	quota domain.Quota
	now   func() time.Time

	shards [shardCount]shard

	ownersMu sync.RWMutex
	owners   map[string]string
}

func NewSessionLedger(ttl time.Duration, quota domain.Quota) *SessionLedger {
	l := &SessionLedger{
		ttl:    ttl,
		quota:  quota,
		now:    func() time.Time { return time.Now().UTC() },
		owners: make(map[string]string),
	}
	for i := range l.shards {
		l.shards[i].sessions = make(map[string]*entry)
	}
	return l
}

// WithClock overrides the time source.
func (l *SessionLedger) WithClock(now func() time.Time) *SessionLedger {
	l.now = now
	return l
}

func (l *SessionLedger) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &l.shards[h.Sum32()%shardCount]
}

func (l *SessionLedger) lookup(sessionID string) *entry {
	sh := l.shardFor(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.sessions[sessionID]
}

// Touch returns the session, creating it when absent. Expiry is fixed at
// creation and never extended. An expired session that the sweeper has not
// collected yet is reported as not found.
func (l *SessionLedger) Touch(_ context.Context, sessionID, owner string) (*domain.Session, error) {
	now := l.now()
	sh := l.shardFor(sessionID)

	sh.mu.Lock()
	e, ok := sh.sessions[sessionID]
	if !ok {
		e = &entry{
			session: domain.Session{
				ID:             sessionID,
				Owner:          owner,
				CreatedAt:      now,
				LastActivityAt: now,
				ExpiresAt:      now.Add(l.ttl),
			},
			artifacts: make(map[string]int64),
		}
		sh.sessions[sessionID] = e
	}
	sh.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.session.Expired(now) {
		return nil, domain.WrapError(domain.ErrNotFound, "touch session", fmt.Errorf("session %s expired", sessionID))
	}
	e.session.LastActivityAt = now
	return snapshot(e), nil
}

func (l *SessionLedger) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	e := l.lookup(sessionID)
	if e == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "get session", fmt.Errorf("id=%s", sessionID))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, domain.WrapError(domain.ErrNotFound, "get session", fmt.Errorf("id=%s", sessionID))
	}
	return snapshot(e), nil
}

// Attach records an artifact against the session if the quota allows it.
// The check and the update happen under the session lock.
func (l *SessionLedger) Attach(_ context.Context, sessionID string, ref domain.ArtifactRef) error {
	e := l.lookup(sessionID)
	if e == nil {
		return domain.WrapError(domain.ErrNotFound, "attach artifact", fmt.Errorf("session %s", sessionID))
	}

	now := l.now()
	e.mu.Lock()
	if e.removed || e.session.Expired(now) {
		e.mu.Unlock()
		return domain.WrapError(domain.ErrNotFound, "attach artifact", fmt.Errorf("session %s expired", sessionID))
	}
	if _, dup := e.artifacts[ref.ID]; dup {
		e.mu.Unlock()
		return nil
	}
	if l.quota.MaxFiles > 0 && e.session.FileCount+1 > l.quota.MaxFiles {
		e.mu.Unlock()
		return domain.NewFailure(domain.ErrQuotaExceeded, "session file limit of %d reached", l.quota.MaxFiles)
	}
	if l.quota.MaxBytes > 0 && e.session.TotalBytes+ref.Size > l.quota.MaxBytes {
		e.mu.Unlock()
		return domain.NewFailure(domain.ErrQuotaExceeded, "session storage limit of %d bytes reached", l.quota.MaxBytes)
	}
	e.artifacts[ref.ID] = ref.Size
	e.session.FileCount++
	e.session.TotalBytes += ref.Size
	e.session.LastActivityAt = now

	// Owner index is updated under the session lock so a concurrent Remove
	// cannot leave an entry pointing at a dead session. Lock order is
	// session, then owners.
	l.ownersMu.Lock()
	l.owners[ref.ID] = sessionID
	l.ownersMu.Unlock()
	e.mu.Unlock()
	return nil
}

// Detach releases an artifact's quota. Unknown artifacts are ignored, so
// repeated calls never double-decrement.
func (l *SessionLedger) Detach(_ context.Context, sessionID, artifactID string) error {
	e := l.lookup(sessionID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	size, ok := e.artifacts[artifactID]
	if ok {
		delete(e.artifacts, artifactID)
		e.session.FileCount--
		e.session.TotalBytes -= size
	}
	e.mu.Unlock()

	if ok {
		l.ownersMu.Lock()
		if l.owners[artifactID] == sessionID {
			delete(l.owners, artifactID)
		}
		l.ownersMu.Unlock()
	}
	return nil
}

func (l *SessionLedger) OwnerOf(_ context.Context, artifactID string) (string, error) {
	l.ownersMu.RLock()
	sessionID, ok := l.owners[artifactID]
	l.ownersMu.RUnlock()
	if !ok {
		return "", domain.WrapError(domain.ErrNotFound, "owner of", fmt.Errorf("artifact %s", artifactID))
	}
	return sessionID, nil
}

// ExpireOlderThan lists ids of sessions whose expiry is at or before ts,
// sorted, strictly after the given cursor.
func (l *SessionLedger) ExpireOlderThan(_ context.Context, ts time.Time, after string, limit int) ([]string, error) {
	var ids []string
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.RLock()
		for id, e := range sh.sessions {
			if id <= after {
				continue
			}
			e.mu.Lock()
			expired := !e.removed && e.session.Expired(ts)
			e.mu.Unlock()
			if expired {
				ids = append(ids, id)
			}
		}
		sh.mu.RUnlock()
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Remove deletes the session and its artifact index entries.
func (l *SessionLedger) Remove(_ context.Context, sessionID string) error {
	sh := l.shardFor(sessionID)
	sh.mu.Lock()
	e, ok := sh.sessions[sessionID]
	delete(sh.sessions, sessionID)
	sh.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	l.ownersMu.Lock()
	for id := range e.artifacts {
		if l.owners[id] == sessionID {
			delete(l.owners, id)
		}
	}
	l.ownersMu.Unlock()
	return nil
}

func snapshot(e *entry) *domain.Session {
	s := e.session
	s.ArtifactIDs = make([]string, 0, len(e.artifacts))
	for id := range e.artifacts {
		s.ArtifactIDs = append(s.ArtifactIDs, id)
	}
	slices.Sort(s.ArtifactIDs)
	return &s
}
