// Package refresh keeps the metrics of viral videos current.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/reelscout/backend/internal/auth"
	"github.com/reelscout/backend/internal/instagram"
	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/metrics"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/queue"
	"github.com/reelscout/backend/internal/repositories"
	"github.com/reelscout/backend/internal/scoring"
)

// VideoStore loads videos and records refreshed metrics.
type VideoStore interface {
	FindVideoByID(ctx context.Context, videoID string) (models.Video, error)
	AppendMetrics(ctx context.Context, videoID string, update models.MetricsUpdate) error
}

// MediaSource fetches the live state of one media item.
type MediaSource interface {
	MediaInfo(ctx context.Context, id, claim string) (models.VideoCandidate, error)
}

// Refresher re-reads counters from the platform and appends a snapshot.
type Refresher struct {
	videos  VideoStore
	media   MediaSource
	claims  instagram.ClaimSource
	scorer  *scoring.Engine
	metrics *metrics.Metrics

	Now func() time.Time
}

// NewRefresher constructs a Refresher. A nil scorer uses the default thresholds.
func NewRefresher(videos VideoStore, media MediaSource, claims instagram.ClaimSource, scorer *scoring.Engine, m *metrics.Metrics) *Refresher {
	if scorer == nil {
		scorer = scoring.NewEngine(scoring.DefaultThresholds())
	}
	return &Refresher{videos: videos, media: media, claims: claims, scorer: scorer, metrics: m, Now: time.Now}
}

// Refresh appends a fresh metrics snapshot to videoID and recomputes its
// viral score, growth against the previous snapshot and non-viral streak.
func (r *Refresher) Refresh(ctx context.Context, videoID string) (models.MetricsUpdate, error) {
	ctx, span := logging.StartSpan(ctx, "refresh.video", "videoId", videoID)
	defer span.End()

	update, err := r.refresh(ctx, videoID)
	if err != nil {
		r.metrics.Refreshed("failed")
		return models.MetricsUpdate{}, err
	}
	r.metrics.Refreshed("updated")
	logging.FromContext(ctx).Info("metrics refreshed",
		"videoId", videoID,
		"views", update.Snapshot.Views,
		"viralScore", update.Snapshot.ViralScore,
		"growthPercent", update.GrowthPercent,
	)
	return update, nil
}

func (r *Refresher) refresh(ctx context.Context, videoID string) (models.MetricsUpdate, error) {
	video, err := r.videos.FindVideoByID(ctx, videoID)
	if err != nil {
		return models.MetricsUpdate{}, fmt.Errorf("load video %s: %w", videoID, err)
	}

	claim := auth.NeutralClaim
	if r.claims != nil {
		claim = r.claims.Get(ctx, false)
	}
	live, err := r.media.MediaInfo(ctx, video.VideoID, claim)
	if err != nil {
		return models.MetricsUpdate{}, fmt.Errorf("fetch media %s: %w", videoID, err)
	}

	update := Compute(video, live, r.scorer, r.Now().UTC())
	if err := r.videos.AppendMetrics(ctx, videoID, update); err != nil {
		return models.MetricsUpdate{}, fmt.Errorf("store metrics %s: %w", videoID, err)
	}
	return update, nil
}

// Compute derives the metrics update for video from its live counters.
func Compute(video models.Video, live models.VideoCandidate, scorer *scoring.Engine, now time.Time) models.MetricsUpdate {
	score := scorer.ViralScore(live.Views, live.Likes, live.Comments, video.PublishedAt)
	snapshot := models.MetricsSnapshot{
		Views:      live.Views,
		Likes:      live.Likes,
		Comments:   live.Comments,
		ViralScore: score,
		Timestamp:  now,
	}

	prev := models.MetricsSnapshot{
		Views:      video.Views,
		Likes:      video.Likes,
		Comments:   video.Comments,
		ViralScore: video.ViralScore,
	}
	if n := len(video.MetricsHistory); n > 0 {
		prev = video.MetricsHistory[n-1]
	}

	growth := models.MetricsGrowth{
		ViewsGrowth:      snapshot.Views - prev.Views,
		LikesGrowth:      snapshot.Likes - prev.Likes,
		CommentsGrowth:   snapshot.Comments - prev.Comments,
		ViralScoreGrowth: snapshot.ViralScore - prev.ViralScore,
		CalculatedAt:     now,
	}

	var percent float64
	if prev.Views > 0 {
		percent = math.Round(float64(growth.ViewsGrowth)/float64(prev.Views)*10000) / 100
	}

	isViral := scorer.IsViral(score)
	nonViral := 0
	if !isViral {
		nonViral = video.NonViralCount + 1
	}

	return models.MetricsUpdate{
		Snapshot:      snapshot,
		IsViral:       isViral,
		Growth:        growth,
		GrowthPercent: percent,
		NonViralCount: nonViral,
	}
}

// HandleJob is the queue handler for metrics jobs. Videos that no longer
// exist are dropped without a retry.
func (r *Refresher) HandleJob(ctx context.Context, job queue.Job) error {
	var payload queue.MetricsPayload
	if err := job.Decode(&payload); err != nil {
		logging.FromContext(ctx).Error("drop metrics job", "error", err)
		return nil
	}
	if payload.VideoID == "" {
		logging.FromContext(ctx).Error("drop metrics job without video id")
		return nil
	}

	if _, err := r.Refresh(ctx, payload.VideoID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			logging.FromContext(ctx).Warn("video no longer stored", "videoId", payload.VideoID)
			return nil
		}
		return err
	}
	return nil
}
