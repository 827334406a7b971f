package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reelscout/backend/internal/audio"
	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/repositories"
	"github.com/reelscout/backend/internal/videos"
	"github.com/reelscout/backend/internal/vision"
)

// AnalyzeHandler runs the multi-modal analysis of a single video on demand.
// Submitted URLs must point at AllowedHosts, or videos.DefaultAllowedHosts
// when it is empty.
type AnalyzeHandler struct {
	Processor    VideoProcessor
	Videos       VideoFinder
	Limiter      RateLimiter
	AllowedHosts []string
}

type analyzeRequest struct {
	URL     string `json:"url"`
	VideoID string `json:"videoId"`
}

type videoMetrics struct {
	Platform      string    `json:"platform"`
	Author        string    `json:"author"`
	Description   string    `json:"description"`
	Views         int64     `json:"views"`
	Likes         int64     `json:"likes"`
	Comments      int64     `json:"comments"`
	ViralScore    int       `json:"viralScore"`
	IsViral       bool      `json:"isViral"`
	GrowthPercent float64   `json:"growthPercent"`
	PublishedAt   time.Time `json:"publishedAt"`
}

type analyzeVideoResponse struct {
	VideoID     string                `json:"videoId"`
	Metrics     videoMetrics          `json:"metrics"`
	Description models.AnalysisResult `json:"description"`
}

// Analyze handles POST /api/v1/analyze. With a videoId the stored video is
// analyzed and the result is wrapped together with its metrics.
func (h AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !allowRequest(h.Limiter, r, "analyze") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	if h.Processor == nil {
		logger.Error("video processor unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "analysis services unavailable")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid analyze payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	req.VideoID = strings.TrimSpace(req.VideoID)

	var (
		video  models.Video
		stored bool
	)
	if req.VideoID != "" {
		if h.Videos == nil {
			logger.Error("video store unavailable")
			respondError(ctx, w, http.StatusInternalServerError, "analysis services unavailable")
			return
		}
		v, err := h.Videos.FindVideoByID(ctx, req.VideoID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				respondError(ctx, w, http.StatusNotFound, "video not found")
				return
			}
			logger.Error("load video", "videoId", req.VideoID, "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "failed to load video")
			return
		}
		video, stored = v, true
		if req.URL == "" {
			// Signed CDN links expire; the post page does not.
			req.URL = firstNonEmpty(v.URL, v.VideoURL)
		}
	}

	if !validSourceURL(req.URL) {
		respondError(ctx, w, http.StatusBadRequest, "a valid http(s) url or a stored videoId is required")
		return
	}
	allowed := h.AllowedHosts
	if len(allowed) == 0 {
		allowed = videos.DefaultAllowedHosts
	}
	if !videos.HostAllowed(req.URL, allowed) {
		logger.Warn("rejected analyze url", "url", req.URL)
		respondError(ctx, w, http.StatusBadRequest, "url host is not an allowed video source")
		return
	}

	result, err := h.Processor.ProcessVideo(ctx, req.URL)
	if err != nil {
		status, message := analysisFailure(err)
		logger.Error("video analysis failed", "url", req.URL, "error", err)
		respondError(ctx, w, status, message)
		return
	}

	if !stored {
		respondJSON(ctx, w, http.StatusOK, result)
		return
	}

	respondJSON(ctx, w, http.StatusOK, analyzeVideoResponse{
		VideoID: video.VideoID,
		Metrics: videoMetrics{
			Platform:      video.Platform,
			Author:        video.Author,
			Description:   video.Description,
			Views:         video.Views,
			Likes:         video.Likes,
			Comments:      video.Comments,
			ViralScore:    video.ViralScore,
			IsViral:       video.IsViral,
			GrowthPercent: video.GrowthPercent,
			PublishedAt:   video.PublishedAt,
		},
		Description: result,
	})
}

func analysisFailure(err error) (int, string) {
	switch {
	case errors.Is(err, videos.ErrDownloadFailed):
		return http.StatusBadGateway, "failed to download video"
	case errors.Is(err, videos.ErrSourceNotAllowed):
		return http.StatusBadRequest, "url host is not an allowed video source"
	case errors.Is(err, videos.ErrNoFrames):
		return http.StatusUnprocessableEntity, "video has no decodable frames"
	case errors.Is(err, videos.ErrDownloaderUnavailable),
		errors.Is(err, vision.ErrDetectorUnavailable),
		errors.Is(err, audio.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "analysis tooling unavailable"
	default:
		return http.StatusInternalServerError, "video analysis failed"
	}
}

func validSourceURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
