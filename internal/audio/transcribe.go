package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/reelscout/backend/internal/command"
)

// ErrModelUnavailable is returned when a model command is not configured.
var ErrModelUnavailable = errors.New("audio model unavailable")

// Chunk is a timestamped piece of a transcript.
type Chunk struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcription is the speech recognition output for a track.
type Transcription struct {
	Text   string  `json:"text"`
	Chunks []Chunk `json:"chunks"`
}

// Transcriber runs speech recognition on a normalized WAV file.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (Transcription, error)
}

// CommandTranscriber shells out to a speech recognition script. The script
// prints {"text": string, "chunks": [{"text": string, "timestamp": [start, end]}]}.
type CommandTranscriber struct {
	Binary   string
	Args     []string
	Language string
	Run      command.Runner
	Timeout  time.Duration
}

// NewCommandTranscriber builds a transcriber from a command line.
func NewCommandTranscriber(commandLine, language string, timeout time.Duration) *CommandTranscriber {
	binary, args := command.Script(commandLine)
	if language == "" {
		language = "russian"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandTranscriber{Binary: binary, Args: args, Language: language, Run: command.Exec, Timeout: timeout}
}

// Transcribe runs the script on wavPath.
func (t *CommandTranscriber) Transcribe(ctx context.Context, wavPath string) (Transcription, error) {
	if t == nil || t.Binary == "" {
		return Transcription{}, ErrModelUnavailable
	}
	if t.Run == nil {
		t.Run = command.Exec
	}

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	args := append([]string{}, t.Args...)
	args = append(args, "--language", t.Language, wavPath)
	out, err := t.Run(execCtx, t.Binary, args...)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe audio: %w", err)
	}

	var payload struct {
		Text   string `json:"text"`
		Chunks []struct {
			Text      string     `json:"text"`
			Timestamp []*float64 `json:"timestamp"`
		} `json:"chunks"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Transcription{}, fmt.Errorf("parse transcription: %w", err)
	}

	result := Transcription{Text: normalizeText(payload.Text), Chunks: make([]Chunk, 0, len(payload.Chunks))}
	for _, c := range payload.Chunks {
		chunk := Chunk{Text: normalizeText(c.Text)}
		if len(c.Timestamp) > 0 && c.Timestamp[0] != nil {
			chunk.Start = *c.Timestamp[0]
		}
		if len(c.Timestamp) > 1 && c.Timestamp[1] != nil {
			chunk.End = *c.Timestamp[1]
		}
		result.Chunks = append(result.Chunks, chunk)
	}
	return result, nil
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
