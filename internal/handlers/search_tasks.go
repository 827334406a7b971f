package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/queue"
	"github.com/reelscout/backend/internal/repositories"
)

// SearchTaskHandler creates keyword search tasks and reports their progress.
type SearchTaskHandler struct {
	Tasks     TaskStore
	Queue     JobQueue
	QueueName string
	Limiter   RateLimiter
	NowFunc   func() time.Time
}

type createSearchTaskRequest struct {
	HotWord  string `json:"hotWord"`
	Platform string `json:"platform"`
}

type searchTaskResponse struct {
	ID              string     `json:"id"`
	HotWord         string     `json:"hotWord"`
	Platform        string     `json:"platform"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	ProcessedVideos int        `json:"processedVideos"`
	TotalVideos     int        `json:"totalVideos"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func newSearchTaskResponse(task models.SearchTask) searchTaskResponse {
	return searchTaskResponse{
		ID:              task.ID,
		HotWord:         task.HotWord,
		Platform:        task.Platform,
		Status:          string(task.Status),
		Progress:        task.Progress,
		ProcessedVideos: task.ProcessedVideos,
		TotalVideos:     task.TotalVideos,
		LastRunAt:       task.LastRunAt,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
	}
}

// Create handles POST /api/v1/search-tasks.
func (h SearchTaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !allowRequest(h.Limiter, r, "search-tasks") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	if h.Tasks == nil || h.Queue == nil {
		logger.Error("search task dependencies unavailable", "hasTasks", h.Tasks != nil, "hasQueue", h.Queue != nil)
		respondError(ctx, w, http.StatusInternalServerError, "search services unavailable")
		return
	}

	var req createSearchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid search task payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.HotWord = strings.TrimSpace(req.HotWord)
	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	if req.Platform == "" {
		req.Platform = models.PlatformInstagram
	}
	if req.HotWord == "" {
		respondError(ctx, w, http.StatusBadRequest, "hotWord is required")
		return
	}
	if req.Platform != models.PlatformInstagram {
		respondError(ctx, w, http.StatusBadRequest, "unsupported platform")
		return
	}

	now := h.now()
	task := models.SearchTask{
		ID:        uuid.NewString(),
		HotWord:   req.HotWord,
		Platform:  req.Platform,
		Status:    models.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.Tasks.CreateTask(ctx, task); err != nil {
		logger.Error("create search task", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create search task")
		return
	}

	payload := queue.SearchPayload{TaskID: task.ID, HotWord: task.HotWord, Platform: task.Platform}
	if _, err := h.Queue.Enqueue(ctx, h.queueName(), payload); err != nil {
		logger.Error("enqueue search task", "taskId", task.ID, "error", err)
		if updErr := h.Tasks.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, nil); updErr != nil {
			logger.Error("mark unqueued task failed", "taskId", task.ID, "error", updErr)
		}
		respondError(ctx, w, http.StatusServiceUnavailable, "failed to queue search task")
		return
	}

	logger.Info("search task queued", "taskId", task.ID, "hotWord", task.HotWord)
	respondJSON(ctx, w, http.StatusAccepted, newSearchTaskResponse(task))
}

// Get handles GET /api/v1/search-tasks/{id}.
func (h SearchTaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	if h.Tasks == nil {
		logging.FromContext(ctx).Error("task store unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "search services unavailable")
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		respondError(ctx, w, http.StatusBadRequest, "task id is required")
		return
	}

	task, err := h.Tasks.FindTask(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "search task not found")
			return
		}
		logging.FromContext(ctx).Error("find search task", "taskId", id, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load search task")
		return
	}

	respondJSON(ctx, w, http.StatusOK, newSearchTaskResponse(task))
}

func (h SearchTaskHandler) queueName() string {
	if h.QueueName == "" {
		return queue.DefaultSearchQueue
	}
	return h.QueueName
}

func (h SearchTaskHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc().UTC()
	}
	return time.Now().UTC()
}
