package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reelscout/backend/internal/config"
	"github.com/reelscout/backend/internal/instagram"
	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/queue"
	"github.com/reelscout/backend/internal/refresh"
)

// keywordSearcher runs one search task.
type keywordSearcher interface {
	Search(ctx context.Context, keyword, taskID string) (instagram.SearchResult, error)
}

// taskFailer marks a task failed.
type taskFailer interface {
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, progress *int) error
}

var errUnsupportedPlatform = errors.New("unsupported platform")

// searchJobHandler adapts the connector to the search queue. The connector
// records task failures itself; jobs that never reach it are failed here.
func searchJobHandler(searcher keywordSearcher, tasks taskFailer) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var payload queue.SearchPayload
		if err := job.Decode(&payload); err != nil {
			logging.FromContext(ctx).Error("drop search job", "error", err)
			return nil
		}

		logger := logging.FromContext(ctx).With("taskId", payload.TaskID, "hotWord", payload.HotWord)
		ctx = logging.WithLogger(ctx, logger)

		if payload.TaskID == "" || payload.HotWord == "" {
			logger.Error("drop incomplete search job")
			return nil
		}
		if payload.Platform != "" && payload.Platform != models.PlatformInstagram {
			if err := tasks.UpdateTaskStatus(ctx, payload.TaskID, models.TaskStatusFailed, nil); err != nil {
				logger.Error("mark task failed", "error", err)
			}
			return fmt.Errorf("%w: %s", errUnsupportedPlatform, payload.Platform)
		}

		logger.Info("processing search task")
		result, err := searcher.Search(ctx, payload.HotWord, payload.TaskID)
		if err != nil {
			return err
		}
		logger.Info("search task finished", "saved", result.SavedCount, "fetched", result.TotalFetched)
		return nil
	}
}

// workers owns the queue pools and the refresh scheduler of one process.
type workers struct {
	search    *queue.Pool
	metrics   *queue.Pool
	scheduler *refresh.Scheduler
}

func startWorkers(c *components, cfg config.Config, logger *slog.Logger) (*workers, error) {
	scheduler, err := refresh.NewScheduler(c.videos, c.producer, cfg.Queue.MetricsQueue, cfg.Refresh, logger)
	if err != nil {
		return nil, err
	}

	w := &workers{
		search: queue.NewPool(c.backend, cfg.Queue.SearchQueue, searchJobHandler(c.connector, c.tasks), queue.PoolConfig{
			Workers:     cfg.Queue.SearchWorkers,
			MaxAttempts: 1,
		}, c.metrics, logger),
		metrics: queue.NewPool(c.backend, cfg.Queue.MetricsQueue, c.refresher.HandleJob, queue.PoolConfig{
			Workers:     cfg.Queue.MetricsWorkers,
			MaxAttempts: cfg.Queue.MaxAttempts,
			Backoff:     cfg.Queue.RetryBackoff,
			Limiter:     queue.NewLimiter(cfg.Queue.MetricsRateLimit, cfg.Queue.MetricsRateWindow),
		}, c.metrics, logger),
		scheduler: scheduler,
	}
	scheduler.Start()

	logger.Info("workers started",
		"searchQueue", cfg.Queue.SearchQueue,
		"searchWorkers", cfg.Queue.SearchWorkers,
		"metricsQueue", cfg.Queue.MetricsQueue,
		"metricsWorkers", cfg.Queue.MetricsWorkers,
	)
	return w, nil
}

// Shutdown stops the scheduler first so no new jobs are produced, then
// drains both pools.
func (w *workers) Shutdown(ctx context.Context) error {
	return errors.Join(
		w.scheduler.Stop(ctx),
		w.search.Shutdown(ctx),
		w.metrics.Shutdown(ctx),
	)
}
