package videos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reelscout/backend/internal/models"
)

type stubProcessor struct {
	result models.AnalysisResult
	err    error
	calls  int
}

func (s *stubProcessor) ProcessVideo(context.Context, string) (models.AnalysisResult, error) {
	s.calls++
	if s.err != nil {
		return models.AnalysisResult{}, s.err
	}
	return s.result, nil
}

func TestCachingProcessor(t *testing.T) {
	base := &stubProcessor{result: models.AnalysisResult{Duration: 12}}
	cache := NewCachingProcessor(base, time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		got, err := cache.ProcessVideo(ctx, "https://cdn.example.com/a.mp4")
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if got.Duration != 12 {
			t.Fatalf("unexpected result: %+v", got)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected base called once got %d", base.calls)
	}

	if _, err := cache.ProcessVideo(ctx, "https://cdn.example.com/b.mp4"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected a different url to miss the cache, calls=%d", base.calls)
	}
}

func TestCachingProcessorDoesNotCacheFailures(t *testing.T) {
	base := &stubProcessor{err: errors.New("boom")}
	cache := NewCachingProcessor(base, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.ProcessVideo(context.Background(), "https://cdn.example.com/a.mp4"); err == nil {
			t.Fatal("expected error")
		}
	}
	if base.calls != 2 {
		t.Fatalf("expected failures to be retried, calls=%d", base.calls)
	}
}

func TestCachingProcessorNilBase(t *testing.T) {
	var cache *CachingProcessor
	if _, err := cache.ProcessVideo(context.Background(), "https://cdn.example.com/a.mp4"); !errors.Is(err, ErrDownloaderUnavailable) {
		t.Fatalf("expected ErrDownloaderUnavailable, got %v", err)
	}
}
