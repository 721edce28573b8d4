package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/disaster-response/internal/observability"
)

const latestLockName = "sync-latest"

// LatestSyncer is the operation the scheduler repeats.
type LatestSyncer interface {
	SyncLatest(ctx context.Context) *Result
}

// Scheduler runs sync-latest on a fixed interval. A tick that finds the
// previous run still holding the lock is skipped, not queued.
type Scheduler struct {
	syncer   LatestSyncer
	locker   Locker
	interval time.Duration
	clock    clockwork.Clock
	metrics  *observability.Metrics
	onResult func(*Result)
	wg       sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

func WithClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithResultHook registers fn to receive the result of every completed run.
func WithResultHook(fn func(*Result)) SchedulerOption {
	return func(s *Scheduler) { s.onResult = fn }
}

func WithMetrics(m *observability.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func NewScheduler(syncer LatestSyncer, locker Locker, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		syncer:   syncer,
		locker:   locker,
		interval: interval,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = NewMemoryLocker()
	}
	return s
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	slog.Info("starting scheduler", "task", latestLockName, "interval", s.interval)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.spawn(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler shutting down", "task", latestLockName)
			return
		case <-ticker.Chan():
			s.spawn(ctx)
		}
	}
}

// spawn runs one tick in its own goroutine so a slow sync spans ticks instead
// of delaying them.
func (s *Scheduler) spawn(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(ctx)
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	release, ok, err := s.locker.TryLock(ctx, latestLockName)
	if err != nil {
		slog.Error("error acquiring lock", "name", latestLockName, "error", err)
		return
	}
	if !ok {
		slog.Info("previous sync still running, skipping tick", "task", latestLockName)
		if s.metrics != nil {
			s.metrics.SchedulerSkipped.Inc()
		}
		return
	}
	defer release()

	result := s.syncer.SyncLatest(ctx)
	created, skipped := result.Counts()
	if result.Success {
		slog.Info("scheduled sync complete", "task", latestLockName, "created", created, "skipped", skipped)
	} else {
		slog.Error("scheduled sync failed", "task", latestLockName, "message", result.Message)
	}
	if s.onResult != nil {
		s.onResult(result)
	}
}

// Stop waits for the loop and any in-flight run to exit. Cancel the context
// passed to Start first.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	slog.Info("scheduler stopped")
}
