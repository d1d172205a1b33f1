package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLedger(quota domain.Quota) (*SessionLedger, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewSessionLedger(24*time.Hour, quota).WithClock(clock.Now), clock
}

func TestTouchCreatesSessionWithFixedExpiry(t *testing.T) {
	l, clock := newTestLedger(domain.Quota{MaxFiles: 5})
	ctx := context.Background()

	first, err := l.Touch(ctx, "s1", "")
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	clock.Advance(2 * time.Hour)
	second, err := l.Touch(ctx, "s1", "")
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("expiry moved from %v to %v", first.ExpiresAt, second.ExpiresAt)
	}
	if !second.LastActivityAt.After(first.LastActivityAt) {
		t.Fatalf("expected last activity to advance")
	}

	clock.Advance(23 * time.Hour)
	if _, err := l.Touch(ctx, "s1", ""); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected expired session to be not found, got %v", err)
	}
}

func TestConcurrentAttachNeverExceedsFileQuota(t *testing.T) {
	const limit = 10
	l, _ := newTestLedger(domain.Quota{MaxFiles: limit})
	ctx := context.Background()
	if _, err := l.Touch(ctx, "s1", ""); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Attach(ctx, "s1", domain.ArtifactRef{ID: fmt.Sprintf("a%02d", i), Size: 1})
			switch {
			case err == nil:
				ok.Add(1)
			case domain.IsKind(err, domain.ErrQuotaExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok.Load() != limit {
		t.Fatalf("expected exactly %d successful attaches, got %d", limit, ok.Load())
	}
	if rejected.Load() != 64-limit {
		t.Fatalf("expected %d rejections, got %d", 64-limit, rejected.Load())
	}
	sess, _ := l.Get(ctx, "s1")
	if sess.FileCount != limit || len(sess.ArtifactIDs) != limit {
		t.Fatalf("unexpected session state %+v", sess)
	}
}

func TestAttachEnforcesByteQuota(t *testing.T) {
	l, _ := newTestLedger(domain.Quota{MaxBytes: 100})
	ctx := context.Background()
	_, _ = l.Touch(ctx, "s1", "")

	if err := l.Attach(ctx, "s1", domain.ArtifactRef{ID: "a", Size: 60}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	err := l.Attach(ctx, "s1", domain.ArtifactRef{ID: "b", Size: 41})
	if !domain.IsKind(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if err := l.Attach(ctx, "s1", domain.ArtifactRef{ID: "c", Size: 40}); err != nil {
		t.Fatalf("Attach() at exact limit error = %v", err)
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	l, _ := newTestLedger(domain.Quota{MaxFiles: 2})
	ctx := context.Background()
	_, _ = l.Touch(ctx, "s1", "")
	_ = l.Attach(ctx, "s1", domain.ArtifactRef{ID: "a", Size: 10})

	for i := 0; i < 3; i++ {
		if err := l.Detach(ctx, "s1", "a"); err != nil {
			t.Fatalf("Detach() error = %v", err)
		}
	}
	sess, _ := l.Get(ctx, "s1")
	if sess.FileCount != 0 || sess.TotalBytes != 0 {
		t.Fatalf("counters went negative or stale: %+v", sess)
	}
	if _, err := l.OwnerOf(ctx, "a"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected owner cleared, got %v", err)
	}
}

func TestExpireOlderThanAndRemove(t *testing.T) {
	l, clock := newTestLedger(domain.Quota{})
	ctx := context.Background()
	_, _ = l.Touch(ctx, "old-1", "")
	_, _ = l.Touch(ctx, "old-2", "")
	_ = l.Attach(ctx, "old-1", domain.ArtifactRef{ID: "x", Size: 1})
	clock.Advance(12 * time.Hour)
	_, _ = l.Touch(ctx, "young", "")
	clock.Advance(13 * time.Hour)

	ids, err := l.ExpireOlderThan(ctx, clock.Now(), "", 10)
	if err != nil {
		t.Fatalf("ExpireOlderThan() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "old-1" || ids[1] != "old-2" {
		t.Fatalf("unexpected expired ids %v", ids)
	}
	ids, _ = l.ExpireOlderThan(ctx, clock.Now(), "old-1", 10)
	if len(ids) != 1 || ids[0] != "old-2" {
		t.Fatalf("cursor not honored: %v", ids)
	}

	if err := l.Remove(ctx, "old-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := l.Remove(ctx, "old-1"); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if _, err := l.OwnerOf(ctx, "x"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected owner index cleared, got %v", err)
	}
	if _, err := l.Get(ctx, "old-1"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected removed session not found, got %v", err)
	}
}

func TestAttachToUnknownSession(t *testing.T) {
	l, _ := newTestLedger(domain.Quota{})
	err := l.Attach(context.Background(), "nope", domain.ArtifactRef{ID: "a", Size: 1})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentAttachAndRemoveLeaveNoOrphanOwners(t *testing.T) {
	l, _ := newTestLedger(domain.Quota{})
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		sessionID := fmt.Sprintf("s%d", round)
		if _, err := l.Touch(ctx, sessionID, ""); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}

		var wg sync.WaitGroup
		ids := make([]string, 16)
		for i := range ids {
			ids[i] = fmt.Sprintf("%s-a%02d", sessionID, i)
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				err := l.Attach(ctx, sessionID, domain.ArtifactRef{ID: id, Size: 1})
				if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
					t.Errorf("unexpected attach error %v", err)
				}
			}(ids[i])
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Remove(ctx, sessionID); err != nil {
				t.Errorf("Remove() error = %v", err)
			}
		}()
		wg.Wait()

		for _, id := range ids {
			if owner, err := l.OwnerOf(ctx, id); err == nil {
				t.Fatalf("artifact %s still owned by removed session %s", id, owner)
			}
		}
	}
}
