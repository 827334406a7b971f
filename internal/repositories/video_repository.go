package repositories

import (
	"context"
	"time"

	"github.com/reelscout/backend/internal/models"
)

// VideoRepository exposes data access for scraped videos.
type VideoRepository interface {
	CreateVideo(ctx context.Context, video models.Video) (bool, error)
	FindVideoByID(ctx context.Context, videoID string) (models.Video, error)
	AppendMetrics(ctx context.Context, videoID string, update models.MetricsUpdate) error
	ListStaleViral(ctx context.Context, scrapedBefore time.Time, limit int) ([]string, error)
}

// TaskRepository exposes data access for search tasks.
type TaskRepository interface {
	CreateTask(ctx context.Context, task models.SearchTask) error
	FindTask(ctx context.Context, taskID string) (models.SearchTask, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, progress *int) error
	UpdateTaskProgress(ctx context.Context, taskID string, progress int, processed, total *int) error
}
