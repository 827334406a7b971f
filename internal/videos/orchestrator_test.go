package videos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/reelscout/backend/internal/models"
)

type transcoderStub struct {
	frames   int
	framesFn func() error
	audioErr error
}

func (s *transcoderStub) ExtractFrames(_ context.Context, _, framesDir string) error {
	for i := 1; i <= s.frames; i++ {
		name := filepath.Join(framesDir, fmt.Sprintf("frame_%05d.jpg", i))
		if err := os.WriteFile(name, []byte("jpg"), 0o600); err != nil {
			return err
		}
	}
	if s.framesFn != nil {
		return s.framesFn()
	}
	return nil
}

func (s *transcoderStub) ExtractAudio(_ context.Context, _, audioPath string) error {
	if err := os.WriteFile(audioPath, []byte("mp3"), 0o600); err != nil {
		return err
	}
	return s.audioErr
}

type visionStub struct {
	frames []string
	err    error
}

func (s *visionStub) Timeline(_ context.Context, frames []string) ([]models.TimelineSegment, error) {
	s.frames = frames
	if s.err != nil {
		return nil, s.err
	}
	return []models.TimelineSegment{{TimeRange: "0-2с", Visual: "человек", Duration: "3с"}}, nil
}

type audioStub struct {
	path string
	err  error
}

func (s *audioStub) Analyze(_ context.Context, audioPath string) (models.AudioSummary, error) {
	s.path = audioPath
	if _, err := os.Stat(audioPath); err != nil {
		return models.AudioSummary{}, err
	}
	if s.err != nil {
		return models.AudioSummary{}, s.err
	}
	return models.AudioSummary{Type: "music", Description: "Музыка", Duration: 3.2}, nil
}

type archiveStub struct {
	urls []string
}

func (s *archiveStub) Archive(_ context.Context, sourceURL string, _ models.AnalysisResult) (string, error) {
	s.urls = append(s.urls, sourceURL)
	return "s3://bucket/key.json", nil
}

func writingDownloader() Downloader {
	return downloaderFunc(func(_ context.Context, _ string, dest string) (int64, error) {
		return 5, os.WriteFile(dest, []byte("video"), 0o600)
	})
}

func assertGone(t *testing.T, paths Paths) {
	t.Helper()
	for _, p := range []string{paths.Video, paths.Frames, paths.Audio} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s to be removed, stat err = %v", p, err)
		}
	}
}

func TestOrchestratorProcessVideo(t *testing.T) {
	vis := &visionStub{}
	aud := &audioStub{}
	archive := &archiveStub{}
	o := NewOrchestrator(t.TempDir(), OrchestratorDeps{
		Downloader: writingDownloader(),
		Transcoder: &transcoderStub{frames: 3},
		Vision:     vis,
		Audio:      aud,
		Archive:    archive,
	})
	o.NewName = func() string { return "ig_test" }

	result, err := o.ProcessVideo(context.Background(), "https://cdn.example.com/clip.mp4")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Duration != 3.2 || result.Audio.Type != "music" || len(result.Timeline) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(vis.frames) != 3 || filepath.Base(vis.frames[0]) != "frame_00001.jpg" {
		t.Fatalf("unexpected frames %v", vis.frames)
	}
	paths := o.PathsFor("ig_test")
	if aud.path != paths.Audio {
		t.Fatalf("expected audio path %s got %s", paths.Audio, aud.path)
	}
	if len(archive.urls) != 1 {
		t.Fatalf("expected result to be archived once got %d", len(archive.urls))
	}
	assertGone(t, paths)
}

func TestOrchestratorCleansUpAfterFailure(t *testing.T) {
	cases := []struct {
		name string
		deps func() OrchestratorDeps
	}{
		{
			name: "audio analysis fails",
			deps: func() OrchestratorDeps {
				return OrchestratorDeps{
					Downloader: writingDownloader(),
					Transcoder: &transcoderStub{frames: 2},
					Vision:     &visionStub{},
					Audio:      &audioStub{err: errors.New("classifier crashed")},
				}
			},
		},
		{
			name: "frame extraction fails",
			deps: func() OrchestratorDeps {
				return OrchestratorDeps{
					Downloader: writingDownloader(),
					Transcoder: &transcoderStub{frames: 1, framesFn: func() error { return errors.New("ffmpeg exited 1") }},
					Vision:     &visionStub{},
					Audio:      &audioStub{},
				}
			},
		},
		{
			name: "no frames",
			deps: func() OrchestratorDeps {
				return OrchestratorDeps{
					Downloader: writingDownloader(),
					Transcoder: &transcoderStub{},
					Vision:     &visionStub{},
					Audio:      &audioStub{},
				}
			},
		},
		{
			name: "download fails",
			deps: func() OrchestratorDeps {
				return OrchestratorDeps{
					Downloader: downloaderFunc(func(_ context.Context, _ string, dest string) (int64, error) {
						_ = os.WriteFile(dest, []byte("partial"), 0o600)
						return 0, ErrDownloadFailed
					}),
					Transcoder: &transcoderStub{},
					Vision:     &visionStub{},
					Audio:      &audioStub{},
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := NewOrchestrator(t.TempDir(), tc.deps())
			o.NewName = func() string { return "ig_fail" }

			if _, err := o.ProcessVideo(context.Background(), "https://cdn.example.com/clip.mp4"); err == nil {
				t.Fatal("expected error")
			}
			assertGone(t, o.PathsFor("ig_fail"))
		})
	}
}

func TestCleanupToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{
		Video:  filepath.Join(dir, "missing.mp4"),
		Frames: filepath.Join(dir, "frames", "missing"),
		Audio:  filepath.Join(dir, "missing.mp3"),
	}
	if err := Cleanup(paths); err != nil {
		t.Fatalf("expected missing files to be ignored, got %v", err)
	}
	if err := Cleanup(Paths{}); err != nil {
		t.Fatalf("expected empty paths to be ignored, got %v", err)
	}
}

func TestCleanupErrorUnwraps(t *testing.T) {
	err := error(&CleanupError{Errs: []error{os.ErrPermission, errors.New("other")}})
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected CleanupError to unwrap to its causes")
	}
}
