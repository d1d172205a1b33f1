package inproc

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestQueueDeliversEveryJobOnce(t *testing.T) {
	q := New(3, 16, discard())
	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	wg.Add(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.SubscribeJobs(ctx, func(_ context.Context, id string) error {
			mu.Lock()
			seen[id]++
			mu.Unlock()
			wg.Done()
			return nil
		})
		close(done)
	}()

	for i := 0; i < 10; i++ {
		if err := q.PublishJob(context.Background(), string(rune('a'+i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	wg.Wait()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SubscribeJobs did not return after cancel")
	}

	if len(seen) != 10 {
		t.Fatalf("expected 10 distinct jobs, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s delivered %d times", id, n)
		}
	}
}

func TestQueueFullIsUnavailable(t *testing.T) {
	q := New(1, 1, discard())
	if err := q.PublishJob(context.Background(), "j1"); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := q.PublishJob(context.Background(), "j2")
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable on full queue, got %v", err)
	}
	if q.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", q.Depth())
	}
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	q := New(1, 4, discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.SubscribeJobs(ctx, func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := q.PublishJob(context.Background(), "late"); !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected unavailable after shutdown, got %v", err)
	}
}
