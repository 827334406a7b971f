package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/reelscout/backend/internal/command"
)

// SampleRate is the rate every sub-analysis works at.
const SampleRate = 16000

// ErrEmptyAudio is returned when a normalized track has no samples.
var ErrEmptyAudio = errors.New("audio track is empty")

// ErrInvalidWAV is returned for WAV files that are not 16-bit PCM.
var ErrInvalidWAV = errors.New("unsupported wav file")

// Normalizer converts any audio file to mono 16 kHz 16-bit PCM WAV with
// ffmpeg.
type Normalizer struct {
	Binary  string
	Run     command.Runner
	Timeout time.Duration
}

// NewNormalizer constructs a Normalizer using the given ffmpeg binary.
func NewNormalizer(binary string, timeout time.Duration) *Normalizer {
	if binary == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Normalizer{Binary: binary, Run: command.Exec, Timeout: timeout}
}

// Normalize writes the converted track of input to output.
func (n *Normalizer) Normalize(ctx context.Context, input, output string) error {
	if n.Run == nil {
		n.Run = command.Exec
	}
	execCtx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	_, err := n.Run(execCtx, n.Binary,
		"-i", input,
		"-ar", fmt.Sprint(SampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		output, "-y",
	)
	if err != nil {
		return fmt.Errorf("normalize audio: %w", err)
	}
	return nil
}

// ReadWAV loads a 16-bit PCM WAV file as float samples in [-1, 1). Only the
// first channel of multi-channel audio is returned.
func ReadWAV(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read wav: %w", err)
	}
	return DecodeWAV(data)
}

// DecodeWAV parses an in-memory WAV file. It returns the samples and the
// sample rate.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, 0, ErrInvalidWAV
	}

	var (
		channels   int
		sampleRate int
		bits       int
		pcm        []byte
		haveFormat bool
	)

	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if size < 0 || end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, 0, ErrInvalidWAV
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 || bits != 16 || channels < 1 {
				return nil, 0, fmt.Errorf("%w: format %d, %d bits, %d channels", ErrInvalidWAV, format, bits, channels)
			}
			haveFormat = true
		case "data":
			pcm = data[body:end]
		}

		// Chunks are padded to an even size.
		off = end + (end-body)%2
	}

	if !haveFormat {
		return nil, 0, ErrInvalidWAV
	}

	frameBytes := 2 * channels
	count := len(pcm) / frameBytes
	if count == 0 {
		return nil, sampleRate, ErrEmptyAudio
	}

	samples := make([]float32, count)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*frameBytes:]))
		samples[i] = float32(v) / 32768
	}
	return samples, sampleRate, nil
}

// EncodeWAV renders mono 16-bit PCM samples as a WAV file.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	var buf bytes.Buffer
	dataSize := uint32(len(samples) * 2)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)

	for _, s := range samples {
		v := s * 32768
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		_ = binary.Write(&buf, binary.LittleEndian, int16(v))
	}
	return buf.Bytes()
}
