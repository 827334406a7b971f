// Package videos acquires short videos and turns them into a compact
// multi-modal analysis.
package videos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/metrics"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/vision"
)

// VisualAnalyzer produces the visual timeline for a list of frame files.
type VisualAnalyzer interface {
	Timeline(ctx context.Context, frames []string) ([]models.TimelineSegment, error)
}

// AudioAnalyzer summarizes an audio file.
type AudioAnalyzer interface {
	Analyze(ctx context.Context, audioPath string) (models.AudioSummary, error)
}

// Archiver stores a finished analysis and returns its location.
type Archiver interface {
	Archive(ctx context.Context, sourceURL string, result models.AnalysisResult) (string, error)
}

// FrameLister lists the frame images in a directory in playback order.
type FrameLister func(dir string) ([]string, error)

// Paths are the temporary files of one acquisition run.
type Paths struct {
	Video  string
	Frames string
	Audio  string
}

// OrchestratorDeps aggregates the collaborators of an Orchestrator.
type OrchestratorDeps struct {
	Downloader Downloader
	Transcoder Transcoder
	Vision     VisualAnalyzer
	Audio      AudioAnalyzer
	Frames     FrameLister
	Archive    Archiver
	Metrics    *metrics.Metrics
}

// Orchestrator runs download, extraction and analysis for one video at a
// time. Concurrent runs are isolated by unique scratch file names.
type Orchestrator struct {
	deps       OrchestratorDeps
	scratchDir string

	// NewName returns the base name for a run's files.
	NewName func() string
}

// NewOrchestrator constructs an Orchestrator writing under scratchDir.
func NewOrchestrator(scratchDir string, deps OrchestratorDeps) *Orchestrator {
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "reelscout")
	}
	return &Orchestrator{
		deps:       deps,
		scratchDir: scratchDir,
		NewName:    func() string { return "ig_" + uuid.NewString() },
	}
}

// PathsFor returns the scratch paths used for a run named name.
func (o *Orchestrator) PathsFor(name string) Paths {
	return Paths{
		Video:  filepath.Join(o.scratchDir, "videos", name+".mp4"),
		Frames: filepath.Join(o.scratchDir, "frames", name),
		Audio:  filepath.Join(o.scratchDir, "audio", name+".mp3"),
	}
}

// ProcessVideo downloads sourceURL, extracts frames and audio, analyzes both
// concurrently and returns the merged result. Temporary files are removed
// whether or not the run succeeds.
func (o *Orchestrator) ProcessVideo(ctx context.Context, sourceURL string) (result models.AnalysisResult, err error) {
	ctx, span := logging.StartSpan(ctx, "videos.process")
	defer span.End()
	logger := logging.FromContext(ctx).With("url", sourceURL)

	if o.deps.Downloader == nil || o.deps.Transcoder == nil || o.deps.Vision == nil || o.deps.Audio == nil {
		return models.AnalysisResult{}, errors.New("orchestrator missing dependencies")
	}

	started := time.Now()
	paths := o.PathsFor(o.NewName())

	defer func() {
		if cleanupErr := Cleanup(paths); cleanupErr != nil {
			var ce *CleanupError
			if errors.As(cleanupErr, &ce) {
				o.deps.Metrics.CleanupFailed(len(ce.Errs))
			}
			logger.Warn("temporary files not fully removed", "error", cleanupErr)
		}

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		o.deps.Metrics.Acquisition(outcome, time.Since(started))
	}()

	for _, dir := range []string{filepath.Dir(paths.Video), paths.Frames, filepath.Dir(paths.Audio)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return models.AnalysisResult{}, fmt.Errorf("prepare scratch dir: %w", err)
		}
	}

	size, err := o.deps.Downloader.Download(ctx, sourceURL, paths.Video)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	logger.Info("video downloaded", "bytes", size)

	if err := o.deps.Transcoder.ExtractFrames(ctx, paths.Video, paths.Frames); err != nil {
		return models.AnalysisResult{}, err
	}
	if err := o.deps.Transcoder.ExtractAudio(ctx, paths.Video, paths.Audio); err != nil {
		return models.AnalysisResult{}, err
	}

	list := o.deps.Frames
	if list == nil {
		list = vision.Frames
	}
	frames, err := list(paths.Frames)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if len(frames) == 0 {
		return models.AnalysisResult{}, ErrNoFrames
	}

	var (
		timeline []models.TimelineSegment
		summary  models.AudioSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := o.deps.Vision.Timeline(gctx, frames)
		if err != nil {
			return fmt.Errorf("visual analysis: %w", err)
		}
		timeline = t
		return nil
	})
	g.Go(func() error {
		s, err := o.deps.Audio.Analyze(gctx, paths.Audio)
		if err != nil {
			return fmt.Errorf("audio analysis: %w", err)
		}
		summary = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.AnalysisResult{}, err
	}

	duration := summary.Duration
	if duration <= 0 {
		duration = float64(len(frames))
	}
	result = models.AnalysisResult{
		Duration: duration,
		Audio:    summary,
		Timeline: timeline,
	}

	if o.deps.Archive != nil {
		location, err := o.deps.Archive.Archive(ctx, sourceURL, result)
		if err != nil {
			logger.Warn("archive analysis", "error", err)
		} else {
			logger.Info("analysis archived", "location", location)
		}
	}

	logger.Info("video processed", "frames", len(frames), "segments", len(timeline), "audioType", summary.Type)
	return result, nil
}

// Cleanup removes the files of one run. Missing files are not errors; every
// other failure is collected into a *CleanupError.
func Cleanup(paths Paths) error {
	var errs []error
	remove := func(label, path string, fn func(string) error) {
		if path == "" {
			return
		}
		if err := fn(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s %s: %w", label, path, err))
		}
	}

	remove("video", paths.Video, os.Remove)
	remove("frames", paths.Frames, os.RemoveAll)
	remove("audio", paths.Audio, os.Remove)

	if len(errs) > 0 {
		return &CleanupError{Errs: errs}
	}
	return nil
}
