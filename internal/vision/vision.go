// Package vision turns sampled video frames into a compact, localized
// timeline of what is on screen.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reelscout/backend/internal/command"
	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/models"
)

// MinScore is the confidence (in percent) a detection must exceed to be
// described.
const MinScore = 50

// EmptyFrame describes a frame without confident detections.
const EmptyFrame = "Пустой кадр"

// ErrDetectorUnavailable is returned when the detection command cannot be
// resolved.
var ErrDetectorUnavailable = errors.New("object detector unavailable")

// Detection is one detected object. Score is a percentage in [0, 100].
type Detection struct {
	Class string `json:"class"`
	Score int    `json:"score"`
}

// FrameDetections holds the detections for one sampled frame.
type FrameDetections struct {
	Frame   string      `json:"frame"`
	Objects []Detection `json:"objects"`
}

// Detector runs object detection on a single frame image.
type Detector interface {
	Detect(ctx context.Context, framePath string) ([]Detection, error)
}

// CommandDetector shells out to an object detection script. The script
// receives the frame path as its last argument and prints a JSON array of
// {"class": string, "score": float} with scores in [0, 1].
type CommandDetector struct {
	Binary  string
	Args    []string
	Run     command.Runner
	Timeout time.Duration

	once    sync.Once
	initErr error
}

// NewCommandDetector builds a detector from a command line such as
// "python3 scripts/detect.py".
func NewCommandDetector(commandLine string, timeout time.Duration) *CommandDetector {
	binary, args := command.Script(commandLine)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CommandDetector{Binary: binary, Args: args, Run: command.Exec, Timeout: timeout}
}

func (d *CommandDetector) init() error {
	d.once.Do(func() {
		if d.Binary == "" {
			d.initErr = ErrDetectorUnavailable
			return
		}
		if d.Run == nil {
			d.Run = command.Exec
		}
		if _, err := exec.LookPath(d.Binary); err != nil {
			d.initErr = fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
		}
	})
	return d.initErr
}

// Detect runs the configured script on framePath.
func (d *CommandDetector) Detect(ctx context.Context, framePath string) ([]Detection, error) {
	if d == nil {
		return nil, ErrDetectorUnavailable
	}
	if err := d.init(); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	args := append([]string{}, d.Args...)
	args = append(args, framePath)
	out, err := d.Run(execCtx, d.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("detect objects: %w", err)
	}

	var predictions []struct {
		Class string  `json:"class"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(out, &predictions); err != nil {
		return nil, fmt.Errorf("parse detections: %w", err)
	}

	detections := make([]Detection, 0, len(predictions))
	for _, p := range predictions {
		detections = append(detections, Detection{
			Class: p.Class,
			Score: int(math.Round(p.Score * 100)),
		})
	}
	return detections, nil
}

// Analyzer runs a Detector over the frames of one video.
type Analyzer struct {
	Detector Detector
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(detector Detector) *Analyzer {
	return &Analyzer{Detector: detector}
}

// Frames lists the JPEG frames in dir in file-name order.
func Frames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	var frames []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".jpg") {
			continue
		}
		frames = append(frames, filepath.Join(dir, entry.Name()))
	}
	sort.SliceStable(frames, func(i, j int) bool {
		ni, nj := frameNumber(frames[i]), frameNumber(frames[j])
		if ni != nj {
			return ni < nj
		}
		return frames[i] < frames[j]
	})
	return frames, nil
}

// frameNumber parses the trailing digits of a frame file name, so frame_1000
// sorts after frame_999. Names without digits sort first.
func frameNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	end := len(base)
	start := end
	for start > 0 && base[start-1] >= '0' && base[start-1] <= '9' {
		start--
	}
	n, err := strconv.Atoi(base[start:end])
	if err != nil {
		return -1
	}
	return n
}

// Detect runs detection sequentially over frames, preserving their order.
func (a *Analyzer) Detect(ctx context.Context, frames []string) ([]FrameDetections, error) {
	if a == nil || a.Detector == nil {
		return nil, ErrDetectorUnavailable
	}

	ctx, span := logging.StartSpan(ctx, "vision.detect")
	defer span.End()
	logger := logging.FromContext(ctx)

	started := time.Now()
	results := make([]FrameDetections, 0, len(frames))
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		objects, err := a.Detector.Detect(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", filepath.Base(frame), err)
		}
		results = append(results, FrameDetections{Frame: filepath.Base(frame), Objects: objects})

		if (i+1)%5 == 0 || i == len(frames)-1 {
			logger.Debug("frames processed", "done", i+1, "total", len(frames))
		}
	}

	logger.Info("object detection finished", "frames", len(frames), "elapsed", time.Since(started))
	return results, nil
}

// Timeline detects objects in frames and compacts the result.
func (a *Analyzer) Timeline(ctx context.Context, frames []string) ([]models.TimelineSegment, error) {
	detections, err := a.Detect(ctx, frames)
	if err != nil {
		return nil, err
	}
	return CompactTimeline(detections), nil
}
