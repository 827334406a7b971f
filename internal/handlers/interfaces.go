package handlers

import (
	"context"
	"net/http"

	"github.com/reelscout/backend/internal/models"
)

// TaskStore captures the persistence operations required by the search task handlers.
type TaskStore interface {
	CreateTask(ctx context.Context, task models.SearchTask) error
	FindTask(ctx context.Context, taskID string) (models.SearchTask, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, progress *int) error
}

// JobQueue hands work to the background workers.
type JobQueue interface {
	Enqueue(ctx context.Context, queue string, payload any) (string, error)
}

// VideoFinder loads stored videos.
type VideoFinder interface {
	FindVideoByID(ctx context.Context, videoID string) (models.Video, error)
}

// VideoProcessor runs the acquisition and analysis pipeline for one URL.
type VideoProcessor interface {
	ProcessVideo(ctx context.Context, url string) (models.AnalysisResult, error)
}

// MetricsExporter serves the Prometheus registry.
type MetricsExporter interface {
	Handler() http.Handler
}
