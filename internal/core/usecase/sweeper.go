package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
	"github.com/kirillkom/file-converter/internal/core/ports"
)

type SweepResult struct {
	RemovedSessions  int
	DeletedArtifacts int
	PurgedJobs       int
	Errors           int
	Duration         time.Duration
}

type SweeperConfig struct {
	Interval     time.Duration
	BatchSize    int
	JobRetention time.Duration
}

// Sweeper removes expired sessions, their artifacts, orphaned files and old
// finished jobs. Every step is idempotent, so an interrupted pass is simply
// repeated by the next one.
type Sweeper struct {
	store    ports.ArtifactStore
	ledger   ports.SessionLedger
	jobs     ports.JobStore
	recorder ports.SweepRecorder
	cfg      SweeperConfig
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(
	store ports.ArtifactStore,
	ledger ports.SessionLedger,
	jobs ports.JobStore,
	recorder ports.SweepRecorder,
	cfg SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		ledger:   ledger,
		jobs:     jobs,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With("component", "sweeper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one pass immediately and then one per interval until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	s.logger.Info("sweeper_started", "interval", s.cfg.Interval.String())
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("sweeper_stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one full pass. Overlapping calls are serialized.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	now := s.now()
	var res SweepResult

	s.sweepSessions(ctx, now, &res)
	s.sweepOrphans(ctx, now, &res)
	s.purgeJobs(ctx, now, &res)

	res.Duration = time.Since(started)
	if s.recorder != nil {
		s.recorder.ObserveSweep(res.DeletedArtifacts, res.RemovedSessions, res.PurgedJobs, res.Errors, res.Duration)
	}
	s.logger.Info("sweep_completed",
		"removed_sessions", res.RemovedSessions,
		"deleted_artifacts", res.DeletedArtifacts,
		"purged_jobs", res.PurgedJobs,
		"errors", res.Errors,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}

// sweepSessions deletes the artifacts of expired sessions. A session is
// removed only once every one of its artifacts is gone.
func (s *Sweeper) sweepSessions(ctx context.Context, now time.Time, res *SweepResult) {
	after := ""
	for ctx.Err() == nil {
		ids, err := s.ledger.ExpireOlderThan(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			res.Errors++
			s.logger.Error("sweep_list_sessions_failed", "error", err)
			return
		}
		for _, id := range ids {
			if s.sweepSession(ctx, id, res) {
				res.RemovedSessions++
			}
		}
		if len(ids) < s.cfg.BatchSize {
			return
		}
		after = ids[len(ids)-1]
	}
}

func (s *Sweeper) sweepSession(ctx context.Context, id string, res *SweepResult) bool {
	session, err := s.ledger.Get(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return false
		}
		res.Errors++
		s.logger.Error("sweep_load_session_failed", "session_id", id, "error", err)
		return false
	}

	clean := true
	for _, artifactID := range session.ArtifactIDs {
		if err := s.store.Delete(ctx, artifactID); err != nil {
			clean = false
			res.Errors++
			s.logger.Error("sweep_delete_artifact_failed", "session_id", id, "artifact_id", artifactID, "error", err)
			continue
		}
		res.DeletedArtifacts++
	}
	if !clean {
		return false
	}
	if err := s.ledger.Remove(ctx, id); err != nil {
		res.Errors++
		s.logger.Error("sweep_remove_session_failed", "session_id", id, "error", err)
		return false
	}
	return true
}

// sweepOrphans deletes stored artifacts past their expiry that no session
// cleanup reached, plus payloads left behind by interrupted writes.
func (s *Sweeper) sweepOrphans(ctx context.Context, now time.Time, res *SweepResult) {
	cursor := ""
	for ctx.Err() == nil {
		page, err := s.store.ListExpired(ctx, now, cursor, s.cfg.BatchSize)
		if err != nil {
			res.Errors++
			s.logger.Error("sweep_list_artifacts_failed", "error", err)
			return
		}
		for _, id := range page.IDs {
			if err := s.store.Delete(ctx, id); err != nil {
				res.Errors++
				s.logger.Error("sweep_delete_orphan_failed", "artifact_id", id, "error", err)
				continue
			}
			res.DeletedArtifacts++
			if owner, err := s.ledger.OwnerOf(ctx, id); err == nil {
				if err := s.ledger.Detach(ctx, owner, id); err != nil {
					res.Errors++
					s.logger.Error("sweep_detach_orphan_failed", "artifact_id", id, "session_id", owner, "error", err)
				}
			}
		}
		if page.Next == "" {
			return
		}
		cursor = page.Next
	}
}

func (s *Sweeper) purgeJobs(ctx context.Context, now time.Time, res *SweepResult) {
	if s.jobs == nil || s.cfg.JobRetention <= 0 || ctx.Err() != nil {
		return
	}
	n, err := s.jobs.DeleteFinishedBefore(ctx, now.Add(-s.cfg.JobRetention))
	if err != nil {
		res.Errors++
		s.logger.Error("sweep_purge_jobs_failed", "error", err)
		return
	}
	res.PurgedJobs = int(n)
}
