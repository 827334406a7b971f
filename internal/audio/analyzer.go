// Package audio describes the sound track of a video by combining voice
// activity detection, speech recognition and sound classification.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/models"
)

// Merged audio types.
const (
	TypeSpeech      = "speech"
	TypeMusic       = "music"
	TypeEnvironment = "environment"
	TypeUnknown     = "unknown"
)

const musicTranscript = "[музыка]"

// Analyzer runs the three sub-analyses over one audio file.
type Analyzer struct {
	Normalizer  *Normalizer
	Transcriber Transcriber
	Classifier  Classifier
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(normalizer *Normalizer, transcriber Transcriber, classifier Classifier) *Analyzer {
	return &Analyzer{Normalizer: normalizer, Transcriber: transcriber, Classifier: classifier}
}

// Analyze normalizes audioPath to 16 kHz mono, runs VAD, transcription and
// classification concurrently and merges the results. An empty track yields
// a silent summary rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, audioPath string) (models.AudioSummary, error) {
	if a == nil || a.Normalizer == nil || a.Transcriber == nil || a.Classifier == nil {
		return models.AudioSummary{}, ErrModelUnavailable
	}

	ctx, span := logging.StartSpan(ctx, "audio.analyze")
	defer span.End()
	logger := logging.FromContext(ctx)
	started := time.Now()

	name := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	wavPath := filepath.Join(filepath.Dir(audioPath), name+"_16k.wav")
	// ffmpeg may leave a partial file behind when it fails.
	defer func() {
		if err := os.Remove(wavPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove normalized audio", "path", wavPath, "error", err)
		}
	}()
	if err := a.Normalizer.Normalize(ctx, audioPath, wavPath); err != nil {
		return models.AudioSummary{}, err
	}

	samples, rate, err := ReadWAV(wavPath)
	if errors.Is(err, ErrEmptyAudio) {
		logger.Info("audio track is empty")
		return SilentSummary(), nil
	}
	if err != nil {
		return models.AudioSummary{}, err
	}

	var (
		vad            VADResult
		transcription  Transcription
		classification Classification
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vad = DetectVoiceActivity(samples, rate)
		return nil
	})
	g.Go(func() error {
		t, err := a.Transcriber.Transcribe(gctx, wavPath)
		if err != nil {
			return err
		}
		transcription = t
		return nil
	})
	g.Go(func() error {
		predictions, err := a.Classifier.Classify(gctx, wavPath)
		if err != nil {
			return err
		}
		classification = Categorize(predictions)
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.AudioSummary{}, fmt.Errorf("analyze audio: %w", err)
	}

	summary := Merge(vad, transcription, classification)
	logger.Info("audio analysis finished",
		"type", summary.Type,
		"speechPercentage", summary.SpeechPercentage,
		"elapsed", time.Since(started),
	)
	return summary, nil
}

// SilentSummary describes a track without any audio content.
func SilentSummary() models.AudioSummary {
	return models.AudioSummary{
		Type:          TypeUnknown,
		Description:   describe(TypeUnknown, Transcription{}, Classification{}),
		TopCategories: []models.Category{},
	}
}

// Merge combines the sub-analyses into the compact summary. Speech covering
// more than 30% of the track wins; otherwise the classifier's primary type is
// used only when its top prediction exceeds 50%.
func Merge(vad VADResult, transcription Transcription, classification Classification) models.AudioSummary {
	kind := primaryType(vad, classification)
	summary := models.AudioSummary{
		Type:             kind,
		Description:      describe(kind, transcription, classification),
		Duration:         vad.AudioDuration,
		HasSpeech:        vad.HasSpeech,
		SpeechPercentage: vad.SpeechPercentage,
		TopCategories:    topCategories(classification, 3),
	}
	if vad.HasSpeech && transcription.Text != "" {
		summary.Transcription = transcription.Text
	}
	return summary
}

func primaryType(vad VADResult, c Classification) string {
	if vad.HasSpeech && vad.SpeechPercentage > 30 {
		return TypeSpeech
	}
	if c.TopPrediction.Score > 50 {
		switch c.PrimaryType {
		case ClassSpeech:
			return TypeSpeech
		case ClassMusic:
			return TypeMusic
		case ClassEnvironmentSound:
			return TypeEnvironment
		}
	}
	return TypeUnknown
}

func describe(kind string, t Transcription, c Classification) string {
	switch kind {
	case TypeSpeech:
		if t.Text != "" && t.Text != musicTranscript {
			return "Речь: " + t.Text
		}
		return "Речь"
	case TypeMusic:
		var genres []string
		for _, cat := range c.Categories.Music {
			if cat.Score > 5 && strings.ToLower(cat.Label) != "music" {
				genres = append(genres, cat.Label)
			}
			if len(genres) == 2 {
				break
			}
		}
		if len(genres) > 0 {
			return "Музыка: " + strings.Join(genres, ", ")
		}
		return "Музыка"
	case TypeEnvironment:
		if len(c.Categories.Environment) > 0 {
			return "Звуки: " + c.Categories.Environment[0].Label
		}
		return "Звуки окружения"
	default:
		return "Без звука"
	}
}

func topCategories(c Classification, limit int) []models.Category {
	all := make([]models.Category, 0, len(c.Categories.Speech)+len(c.Categories.Music)+len(c.Categories.Environment))
	for _, group := range [][]models.Category{c.Categories.Speech, c.Categories.Music, c.Categories.Environment} {
		for _, cat := range group {
			if cat.Score > 5 {
				all = append(all, cat)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}
