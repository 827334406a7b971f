// Package tasks models the status and progress of a keyword search run.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/notify"
)

// ErrInvalidTransition is returned when a status change violates the task lifecycle.
var ErrInvalidTransition = errors.New("invalid task status transition")

// Store persists task status and progress.
type Store interface {
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, progress *int) error
	UpdateTaskProgress(ctx context.Context, taskID string, progress int, processed, total *int) error
}

// Update is the payload attached to every task notification.
type Update struct {
	TaskID          string            `json:"taskId"`
	Status          models.TaskStatus `json:"status"`
	Progress        int               `json:"progress"`
	ProcessedVideos int               `json:"processedVideos"`
	TotalVideos     int               `json:"totalVideos"`
	HotWord         string            `json:"hotWord"`
}

var order = map[models.TaskStatus]int{
	models.TaskStatusPending:   0,
	models.TaskStatusConnect:   1,
	models.TaskStatusAnalyze:   2,
	models.TaskStatusProcess:   3,
	models.TaskStatusCompleted: 4,
}

// IsTerminal reports whether no further transitions are allowed from status.
func IsTerminal(status models.TaskStatus) bool {
	return status == models.TaskStatusCompleted || status == models.TaskStatusFailed
}

// CanTransition reports whether moving from one status to another is allowed.
// Statuses only move forward; failed is reachable from any non-terminal status.
func CanTransition(from, to models.TaskStatus) bool {
	if IsTerminal(from) {
		return false
	}
	if to == models.TaskStatusFailed {
		return true
	}
	fromIdx, ok := order[from]
	if !ok {
		return false
	}
	toIdx, ok := order[to]
	if !ok {
		return false
	}
	return toIdx > fromIdx
}

// Tracker drives one run of a search task through its lifecycle.
type Tracker struct {
	store    Store
	notifier notify.Notifier

	mu     sync.Mutex
	update Update
}

// NewTracker starts tracking a fresh run of the task in the pending status.
func NewTracker(store Store, notifier notify.Notifier, taskID, hotWord string) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		update: Update{
			TaskID:  taskID,
			Status:  models.TaskStatusPending,
			HotWord: hotWord,
		},
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.update
}

// Transition moves the task to the next status. Entering connect resets the
// progress to 0 and completing sets it to 100.
func (t *Tracker) Transition(ctx context.Context, next models.TaskStatus) error {
	t.mu.Lock()
	if !CanTransition(t.update.Status, next) {
		from := t.update.Status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	t.update.Status = next
	switch next {
	case models.TaskStatusConnect:
		t.update.Progress = 0
	case models.TaskStatusCompleted:
		t.update.Progress = 100
	}
	snapshot := t.update
	t.mu.Unlock()

	progress := snapshot.Progress
	if t.store != nil {
		if err := t.store.UpdateTaskStatus(ctx, snapshot.TaskID, next, &progress); err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
	}

	t.emit(ctx, snapshot)
	return nil
}

// Progress records processed/total and emits round(processed/total*100). The
// emitted value never decreases within a run.
func (t *Tracker) Progress(ctx context.Context, processed, total int) error {
	t.mu.Lock()
	pct := percent(processed, total)
	if pct < t.update.Progress {
		pct = t.update.Progress
	}
	t.update.Progress = pct
	t.update.ProcessedVideos = processed
	t.update.TotalVideos = total
	snapshot := t.update
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.UpdateTaskProgress(ctx, snapshot.TaskID, pct, &processed, &total); err != nil {
			return fmt.Errorf("update task progress: %w", err)
		}
	}

	t.emit(ctx, snapshot)
	return nil
}

// Fail marks the run failed. It is a no-op once the run is terminal.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	t.mu.Lock()
	terminal := IsTerminal(t.update.Status)
	t.mu.Unlock()
	if terminal {
		return nil
	}

	logging.FromContext(ctx).Error("search task failed", "taskId", t.update.TaskID, "error", cause)
	return t.Transition(ctx, models.TaskStatusFailed)
}

func (t *Tracker) emit(ctx context.Context, u Update) {
	if t.notifier == nil {
		return
	}
	event := notify.EventTaskUpdate
	if u.Status == models.TaskStatusCompleted {
		event = notify.EventTaskCompleted
	}
	if err := t.notifier.Notify(ctx, event, u); err != nil {
		logging.FromContext(ctx).Warn("task notification failed", "taskId", u.TaskID, "event", event, "error", err)
	}
}

func percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	if processed > total {
		processed = total
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}
