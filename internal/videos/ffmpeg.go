package videos

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/reelscout/backend/internal/command"
)

// Transcoder extracts the inputs of the analyzers from a video file.
type Transcoder interface {
	ExtractFrames(ctx context.Context, videoPath, framesDir string) error
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
}

// FFmpeg implements Transcoder with the ffmpeg CLI.
type FFmpeg struct {
	Binary  string
	Run     command.Runner
	Timeout time.Duration
}

// NewFFmpeg constructs an FFmpeg transcoder.
func NewFFmpeg(binary string, timeout time.Duration) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &FFmpeg{Binary: binary, Run: command.Exec, Timeout: timeout}
}

// ExtractFrames samples one JPEG frame per second into framesDir.
func (f *FFmpeg) ExtractFrames(ctx context.Context, videoPath, framesDir string) error {
	pattern := filepath.Join(framesDir, "frame_%05d.jpg")
	if err := f.run(ctx, "-i", videoPath, "-vf", "fps=1", pattern, "-y"); err != nil {
		return fmt.Errorf("extract frames: %w", err)
	}
	return nil
}

// ExtractAudio writes the audio track of videoPath as mp3.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	if err := f.run(ctx, "-i", videoPath, "-vn", "-acodec", "libmp3lame", "-q:a", "2", audioPath, "-y"); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	if f.Run == nil {
		f.Run = command.Exec
	}
	execCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	_, err := f.Run(execCtx, f.Binary, args...)
	return err
}
