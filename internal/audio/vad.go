package audio

import (
	"math"
	"sort"
)

const (
	vadFrameSize    = 1600
	vadMinThreshold = 0.01
	vadMinSegment   = 0.2
)

// Segment is one detected stretch of voice activity, in seconds.
type Segment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// VADResult summarizes the voice activity of a track.
type VADResult struct {
	HasSpeech           bool      `json:"hasSpeech"`
	SegmentsCount       int       `json:"segmentsCount"`
	TotalSpeechDuration float64   `json:"totalSpeechDuration"`
	AudioDuration       float64   `json:"audioDuration"`
	SpeechPercentage    int       `json:"speechPercentage"`
	Segments            []Segment `json:"segments"`
}

// DetectVoiceActivity finds voiced segments using per-frame RMS energy
// against an adaptive threshold of three times the 10th-percentile energy.
// Frames are 100 ms at 16 kHz; segments shorter than 200 ms are dropped.
func DetectVoiceActivity(samples []float32, sampleRate int) VADResult {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	frameSize := vadFrameSize * sampleRate / SampleRate
	if frameSize <= 0 {
		frameSize = vadFrameSize
	}

	energies := make([]float64, 0, len(samples)/frameSize+1)
	for i := 0; i < len(samples); i += frameSize {
		end := min(i+frameSize, len(samples))
		var sum float64
		for _, s := range samples[i:end] {
			sum += float64(s) * float64(s)
		}
		energies = append(energies, math.Sqrt(sum/float64(end-i)))
	}

	sorted := append([]float64(nil), energies...)
	sort.Float64s(sorted)
	var noiseFloor float64
	if len(sorted) > 0 {
		noiseFloor = sorted[int(math.Floor(float64(len(sorted))*0.1))]
	}
	threshold := math.Max(noiseFloor*3, vadMinThreshold)

	frameTime := func(i int) float64 {
		return float64(i*frameSize) / float64(sampleRate)
	}

	segments := make([]Segment, 0)
	var (
		totalSpeech float64
		open        = -1
	)
	closeSegment := func(end float64) {
		start := frameTime(open)
		duration := roundTo(end-start, 3)
		if duration >= vadMinSegment {
			segments = append(segments, Segment{Start: roundTo(start, 3), End: roundTo(end, 3), Duration: duration})
			totalSpeech += duration
		}
		open = -1
	}

	for i, energy := range energies {
		voiced := energy > threshold
		switch {
		case voiced && open < 0:
			open = i
		case !voiced && open >= 0:
			closeSegment(frameTime(i))
		}
	}
	if open >= 0 {
		closeSegment(frameTime(len(energies)))
	}

	duration := float64(len(samples)) / float64(sampleRate)
	result := VADResult{
		HasSpeech:           len(segments) > 0,
		SegmentsCount:       len(segments),
		TotalSpeechDuration: roundTo(totalSpeech, 2),
		AudioDuration:       roundTo(duration, 2),
		Segments:            segments,
	}
	if duration > 0 {
		result.SpeechPercentage = int(math.Round(totalSpeech / duration * 100))
	}
	return result
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
