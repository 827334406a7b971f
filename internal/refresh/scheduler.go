package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reelscout/backend/internal/config"
	"github.com/reelscout/backend/internal/queue"
)

// StaleLister finds viral videos due for a refresh.
type StaleLister interface {
	ListStaleViral(ctx context.Context, scrapedBefore time.Time, limit int) ([]string, error)
}

// Enqueuer hands jobs to a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload any) (string, error)
}

// Scheduler periodically enqueues metrics jobs for stale viral videos, and
// once shortly after start.
type Scheduler struct {
	lister   StaleLister
	enqueuer Enqueuer
	queue    string
	cfg      config.RefreshConfig
	logger   *slog.Logger
	cron     *cron.Cron

	Now func() time.Time

	mu      sync.Mutex
	initial *time.Timer
}

// NewScheduler validates the cron schedule and registers the refresh run.
func NewScheduler(lister StaleLister, enqueuer Enqueuer, queueName string, cfg config.RefreshConfig, logger *slog.Logger) (*Scheduler, error) {
	if queueName == "" {
		queueName = queue.DefaultMetricsQueue
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		lister:   lister,
		enqueuer: enqueuer,
		queue:    queueName,
		cfg:      cfg,
		logger:   logger.With("component", "refresh-scheduler"),
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		Now:      time.Now,
	}

	if _, err := s.cron.AddFunc(cfg.Schedule, s.run); err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins the cron schedule and arms the initial run.
func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.InitialDelay >= 0 {
		s.initial = time.AfterFunc(s.cfg.InitialDelay, s.run)
	}
	s.logger.Info("metrics refresh scheduled", "schedule", s.cfg.Schedule, "initialDelay", s.cfg.InitialDelay)
}

// Stop cancels future runs and waits for a running one to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.initial != nil {
		s.initial.Stop()
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueStale enqueues one metrics job per stale viral video and reports
// how many were enqueued.
func (s *Scheduler) EnqueueStale(ctx context.Context) (int, error) {
	before := s.Now().Add(-s.cfg.StaleAfter)
	ids, err := s.lister.ListStaleViral(ctx, before, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale videos: %w", err)
	}

	enqueued := 0
	for _, id := range ids {
		if _, err := s.enqueuer.Enqueue(ctx, s.queue, queue.MetricsPayload{VideoID: id}); err != nil {
			return enqueued, fmt.Errorf("enqueue refresh for %s: %w", id, err)
		}
		enqueued++
	}
	return enqueued, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.EnqueueStale(ctx)
	if err != nil {
		s.logger.Error("schedule metrics refresh", "error", err, "enqueued", n)
		return
	}
	s.logger.Info("metrics refresh enqueued", "count", n)
}
