// Package scoring ranks search candidates by viral potential and flags likely
// sponsored content. Every function is pure apart from the injected clock.
package scoring

import (
	"math"
	"strings"
	"time"
)

// Thresholds holds the tunable heuristic constants used by the engine.
type Thresholds struct {
	// ViralGate is the early per-candidate threshold; a score must exceed it
	// for the candidate to be persisted.
	ViralGate int
	// ViralFlag is the threshold recorded as Video.IsViral on saved records.
	ViralFlag int
	// MaxAge rejects candidates published earlier than this.
	MaxAge time.Duration
	// AdThreshold is the minimum ad score for IsAd.
	AdThreshold int
}

// DefaultThresholds returns the production heuristic constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ViralGate:   1000,
		ViralFlag:   50,
		MaxAge:      6 * month,
		AdThreshold: 40,
	}
}

const (
	month          = 30 * 24 * time.Hour
	minHoursAge    = 0.5
	decayHalfHours = 168.0
	maxAdScore     = 100
)

// Engine computes viral and ad scores.
type Engine struct {
	Thresholds Thresholds
	Now        func() time.Time
}

// NewEngine constructs an Engine with the supplied thresholds and wall clock.
func NewEngine(th Thresholds) *Engine {
	if th.ViralGate == 0 && th.ViralFlag == 0 && th.MaxAge == 0 && th.AdThreshold == 0 {
		th = DefaultThresholds()
	}
	return &Engine{Thresholds: th, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// ViralScore returns the weighted composite of engagement rate, view velocity,
// recency decay and raw popularity. It is 0 whenever views is not positive.
func (e *Engine) ViralScore(views, likes, comments int64, createdAt time.Time) int {
	if views <= 0 {
		return 0
	}

	hoursAge := math.Max(e.now().Sub(createdAt).Hours(), minHoursAge)
	v := float64(views)

	engagementRate := (float64(likes) + float64(comments)*3) / v
	viewVelocity := v / hoursAge
	ageDecay := 1 / (1 + hoursAge/decayHalfHours)
	popularityBonus := math.Log10(v + 1)

	score := engagementRate*10000 +
		math.Log10(viewVelocity+1)*3000 +
		ageDecay*2000 +
		popularityBonus*200

	return int(math.Round(score))
}

// PassesViralGate reports whether a score clears the early per-candidate gate.
func (e *Engine) PassesViralGate(score int) bool {
	return score > e.Thresholds.ViralGate
}

// IsViral reports the flag stored on persisted videos. It intentionally uses a
// different threshold than PassesViralGate.
func (e *Engine) IsViral(score int) bool {
	return score > e.Thresholds.ViralFlag
}

// ShouldSave applies the age and virality eligibility rules. Age dominates:
// an old candidate is rejected regardless of score.
func (e *Engine) ShouldSave(createdAt time.Time, score int) bool {
	if e.now().Sub(createdAt) > e.Thresholds.MaxAge {
		return false
	}
	return e.PassesViralGate(score)
}

// AdVerdict is the outcome of DetectAd.
type AdVerdict struct {
	IsAd  bool
	Score int
}

var adKeywords = []string{"sponsored", "ad", "partnership", "collab", "#ad", "#sponsored", "реклама", "партнёрство"}

// DetectAd estimates how likely a caption is sponsored content.
func (e *Engine) DetectAd(caption string, likes int64, ownerVerified bool) AdVerdict {
	lower := strings.ToLower(caption)
	score := 0

	for _, kw := range adKeywords {
		if strings.Contains(lower, kw) {
			score += 40
			break
		}
	}

	if strings.Count(lower, "#") > 15 {
		score += 20
	}
	if countEmoji(lower) > 10 {
		score += 10
	}
	if len([]rune(lower)) < 50 && likes > 10000 {
		score += 15
	}
	if ownerVerified && (strings.Contains(lower, "link") || strings.Contains(lower, "bio")) {
		score += 15
	}

	if score > maxAdScore {
		score = maxAdScore
	}
	return AdVerdict{IsAd: score >= e.Thresholds.AdThreshold, Score: score}
}

// countEmoji counts runes in the emoticon, pictograph, transport and flag blocks.
func countEmoji(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r >= 0x1F600 && r <= 0x1F64F,
			r >= 0x1F300 && r <= 0x1F5FF,
			r >= 0x1F680 && r <= 0x1F6FF,
			r >= 0x1F1E0 && r <= 0x1F1FF:
			n++
		}
	}
	return n
}
