package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/reelscout/backend/internal/command"
	"github.com/reelscout/backend/internal/models"
)

// TopK is the number of predictions requested from the classifier.
const TopK = 10

// Classification primary types.
const (
	ClassSpeech           = "speech"
	ClassMusic            = "music"
	ClassEnvironmentSound = "environment_sound"
	ClassUnknown          = "unknown"
)

var (
	speechLabels = []string{"speech", "male speech", "female speech", "child speech", "conversation", "narration"}
	musicLabels  = []string{"music", "musical instrument", "singing", "song", "guitar", "piano", "drum"}
)

// Prediction is one raw classifier output with a score in [0, 1].
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier runs sound event classification on a normalized WAV file and
// returns predictions ordered by descending score.
type Classifier interface {
	Classify(ctx context.Context, wavPath string) ([]Prediction, error)
}

// Categories buckets predictions by label family. Scores are percentages.
type Categories struct {
	Speech      []models.Category `json:"speech"`
	Music       []models.Category `json:"music"`
	Environment []models.Category `json:"environment"`
	Other       []models.Category `json:"other"`
}

// Classification is the bucketed view of the classifier output.
type Classification struct {
	PrimaryType    string            `json:"primaryType"`
	TopPrediction  models.Category   `json:"topPrediction"`
	Categories     Categories        `json:"categories"`
	AllPredictions []models.Category `json:"allPredictions"`
}

// Categorize buckets predictions and picks the primary type. Environment
// entries need a raw score above 0.1; anything else unmatched is "other".
func Categorize(predictions []Prediction) Classification {
	var c Classification
	for _, p := range predictions {
		entry := models.Category{Label: p.Label, Score: percent(p.Score)}
		label := strings.ToLower(p.Label)

		switch {
		case containsAny(label, speechLabels):
			c.Categories.Speech = append(c.Categories.Speech, entry)
		case containsAny(label, musicLabels):
			c.Categories.Music = append(c.Categories.Music, entry)
		case p.Score > 0.1:
			c.Categories.Environment = append(c.Categories.Environment, entry)
		default:
			c.Categories.Other = append(c.Categories.Other, entry)
		}
		c.AllPredictions = append(c.AllPredictions, entry)
	}
	if len(predictions) > 0 {
		c.TopPrediction = models.Category{Label: predictions[0].Label, Score: percent(predictions[0].Score)}
	}

	switch {
	case len(c.Categories.Speech) > 0 && c.Categories.Speech[0].Score > 20:
		c.PrimaryType = ClassSpeech
	case len(c.Categories.Music) > 0 && c.Categories.Music[0].Score > 20:
		c.PrimaryType = ClassMusic
	case len(c.Categories.Environment) > 0:
		c.PrimaryType = ClassEnvironmentSound
	default:
		c.PrimaryType = ClassUnknown
	}
	return c
}

func containsAny(label string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(label, n) {
			return true
		}
	}
	return false
}

func percent(score float64) int {
	return int(math.Round(score * 100))
}

// CommandClassifier shells out to an audio classification script that
// prints a JSON array of {"label", "score"} objects.
type CommandClassifier struct {
	Binary  string
	Args    []string
	Run     command.Runner
	Timeout time.Duration
}

// NewCommandClassifier builds a classifier from a command line.
func NewCommandClassifier(commandLine string, timeout time.Duration) *CommandClassifier {
	binary, args := command.Script(commandLine)
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CommandClassifier{Binary: binary, Args: args, Run: command.Exec, Timeout: timeout}
}

// Classify runs the script with the top-k limit and the WAV path.
func (c *CommandClassifier) Classify(ctx context.Context, wavPath string) ([]Prediction, error) {
	if c == nil || c.Binary == "" {
		return nil, ErrModelUnavailable
	}
	if c.Run == nil {
		c.Run = command.Exec
	}

	execCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	args := append([]string{}, c.Args...)
	args = append(args, "--top-k", fmt.Sprint(TopK), wavPath)
	out, err := c.Run(execCtx, c.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("classify audio: %w", err)
	}

	var predictions []Prediction
	if err := json.Unmarshal(out, &predictions); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	if len(predictions) > TopK {
		predictions = predictions[:TopK]
	}
	return predictions, nil
}
