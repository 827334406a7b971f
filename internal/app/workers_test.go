package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/reelscout/backend/internal/instagram"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/queue"
)

type stubSearcher struct {
	calls   []string
	err     error
	result  instagram.SearchResult
	taskIDs []string
}

func (s *stubSearcher) Search(_ context.Context, keyword, taskID string) (instagram.SearchResult, error) {
	s.calls = append(s.calls, keyword)
	s.taskIDs = append(s.taskIDs, taskID)
	return s.result, s.err
}

type stubFailer struct {
	statuses map[string]models.TaskStatus
}

func (s *stubFailer) UpdateTaskStatus(_ context.Context, taskID string, status models.TaskStatus, _ *int) error {
	if s.statuses == nil {
		s.statuses = make(map[string]models.TaskStatus)
	}
	s.statuses[taskID] = status
	return nil
}

func searchJob(t *testing.T, payload any) queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return queue.Job{ID: "job-1", Queue: queue.DefaultSearchQueue, Payload: raw}
}

func TestSearchJobHandlerRunsConnector(t *testing.T) {
	searcher := &stubSearcher{result: instagram.SearchResult{SavedCount: 2, TotalFetched: 9}}
	failer := &stubFailer{}
	handle := searchJobHandler(searcher, failer)

	job := searchJob(t, queue.SearchPayload{TaskID: "task-1", HotWord: "котики", Platform: models.PlatformInstagram})
	if err := handle(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(searcher.calls) != 1 || searcher.calls[0] != "котики" || searcher.taskIDs[0] != "task-1" {
		t.Fatalf("unexpected search calls %v %v", searcher.calls, searcher.taskIDs)
	}
	if len(failer.statuses) != 0 {
		t.Fatalf("expected no status updates, got %v", failer.statuses)
	}
}

func TestSearchJobHandlerPropagatesSearchErrors(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("boom")}
	handle := searchJobHandler(searcher, &stubFailer{})

	job := searchJob(t, queue.SearchPayload{TaskID: "task-1", HotWord: "cats"})
	if err := handle(context.Background(), job); err == nil {
		t.Fatal("expected search error to be returned")
	}
}

func TestSearchJobHandlerFailsUnsupportedPlatform(t *testing.T) {
	searcher := &stubSearcher{}
	failer := &stubFailer{}
	handle := searchJobHandler(searcher, failer)

	job := searchJob(t, queue.SearchPayload{TaskID: "task-2", HotWord: "cats", Platform: "tiktok"})
	err := handle(context.Background(), job)
	if !errors.Is(err, errUnsupportedPlatform) {
		t.Fatalf("expected unsupported platform error, got %v", err)
	}
	if failer.statuses["task-2"] != models.TaskStatusFailed {
		t.Fatalf("expected task to be marked failed, got %v", failer.statuses)
	}
	if len(searcher.calls) != 0 {
		t.Fatal("expected connector not to be called")
	}
}

func TestSearchJobHandlerDropsBadPayloads(t *testing.T) {
	searcher := &stubSearcher{}
	handle := searchJobHandler(searcher, &stubFailer{})

	jobs := []queue.Job{
		{ID: "bad", Payload: json.RawMessage(`{"taskId":`)},
		searchJob(t, queue.SearchPayload{TaskID: "task-3"}),
		searchJob(t, queue.SearchPayload{HotWord: "cats"}),
	}
	for _, job := range jobs {
		if err := handle(context.Background(), job); err != nil {
			t.Fatalf("expected job %s to be dropped, got %v", job.ID, err)
		}
	}
	if len(searcher.calls) != 0 {
		t.Fatal("expected connector not to be called")
	}
}
