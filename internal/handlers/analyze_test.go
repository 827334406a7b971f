package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/repositories"
	"github.com/reelscout/backend/internal/videos"
	"github.com/reelscout/backend/internal/vision"
)

type processorStub struct {
	result models.AnalysisResult
	err    error
	urls   []string
}

func (p *processorStub) ProcessVideo(_ context.Context, url string) (models.AnalysisResult, error) {
	p.urls = append(p.urls, url)
	return p.result, p.err
}

type videoFinderStub struct {
	videos map[string]models.Video
	err    error
}

func (f videoFinderStub) FindVideoByID(_ context.Context, id string) (models.Video, error) {
	if f.err != nil {
		return models.Video{}, f.err
	}
	v, ok := f.videos[id]
	if !ok {
		return models.Video{}, repositories.ErrNotFound
	}
	return v, nil
}

func sampleResult() models.AnalysisResult {
	return models.AnalysisResult{
		Duration: 3,
		Audio:    models.AudioSummary{Type: "speech", Description: "Речь", Duration: 3, HasSpeech: true, SpeechPercentage: 80, TopCategories: []models.Category{}},
		Timeline: []models.TimelineSegment{{TimeRange: "0-2с", Visual: "человек, собака", Duration: "3с"}},
	}
}

func postAnalyze(handler AnalyzeHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.Analyze(rec, req)
	return rec
}

func TestAnalyzeHandlerURL(t *testing.T) {
	processor := &processorStub{result: sampleResult()}
	handler := AnalyzeHandler{Processor: processor}

	rec := postAnalyze(handler, `{"url":"https://scontent.cdninstagram.com/v.mp4"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if len(processor.urls) != 1 || processor.urls[0] != "https://scontent.cdninstagram.com/v.mp4" {
		t.Fatalf("unexpected processed urls: %v", processor.urls)
	}

	var resp models.AnalysisResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Duration != 3 || len(resp.Timeline) != 1 || resp.Timeline[0].Visual != "человек, собака" {
		t.Fatalf("unexpected result: %+v", resp)
	}
}

func TestAnalyzeHandlerStoredVideoEnvelope(t *testing.T) {
	processor := &processorStub{result: sampleResult()}
	finder := videoFinderStub{videos: map[string]models.Video{
		"v1": {VideoID: "v1", Platform: "instagram", Author: "alice", URL: "https://www.instagram.com/reel/abc/", VideoURL: "https://cdn.example.com/abc.mp4", Views: 5000, ViralScore: 1800, IsViral: true},
	}}
	handler := AnalyzeHandler{Processor: processor, Videos: finder}

	rec := postAnalyze(handler, `{"videoId":"v1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if processor.urls[0] != "https://www.instagram.com/reel/abc/" {
		t.Fatalf("expected post page url to be analyzed, got %s", processor.urls[0])
	}

	var resp analyzeVideoResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.VideoID != "v1" || resp.Metrics.Author != "alice" || resp.Metrics.Views != 5000 || !resp.Metrics.IsViral {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.Description.Audio.Type != "speech" {
		t.Fatalf("unexpected description: %+v", resp.Description)
	}
}

func TestAnalyzeHandlerFailures(t *testing.T) {
	finder := videoFinderStub{videos: map[string]models.Video{"v1": {VideoID: "v1"}}}

	tests := []struct {
		name    string
		body    string
		procErr error
		finder  VideoFinder
		want    int
	}{
		{name: "malformed body", body: `{`, want: http.StatusBadRequest},
		{name: "missing url", body: `{}`, want: http.StatusBadRequest},
		{name: "relative url", body: `{"url":"/v.mp4"}`, want: http.StatusBadRequest},
		{name: "ftp url", body: `{"url":"ftp://example.com/v.mp4"}`, want: http.StatusBadRequest},
		{name: "metadata address", body: `{"url":"http://169.254.169.254/latest/meta-data/"}`, want: http.StatusBadRequest},
		{name: "internal host", body: `{"url":"http://localhost:8080/admin"}`, want: http.StatusBadRequest},
		{name: "lookalike host", body: `{"url":"https://instagram.com.evil.test/v.mp4"}`, want: http.StatusBadRequest},
		{name: "redirect off platform", body: `{"url":"https://scontent.cdninstagram.com/v.mp4"}`, procErr: fmt.Errorf("get: %w", videos.ErrSourceNotAllowed), want: http.StatusBadRequest},
		{name: "unknown video", body: `{"videoId":"nope"}`, finder: finder, want: http.StatusNotFound},
		{name: "stored video without url", body: `{"videoId":"v1"}`, finder: finder, want: http.StatusBadRequest},
		{name: "video store error", body: `{"videoId":"v1"}`, finder: videoFinderStub{err: errors.New("db down")}, want: http.StatusInternalServerError},
		{name: "download failed", body: `{"url":"https://scontent.cdninstagram.com/v.mp4"}`, procErr: fmt.Errorf("get: %w", videos.ErrDownloadFailed), want: http.StatusBadGateway},
		{name: "no frames", body: `{"url":"https://scontent.cdninstagram.com/v.mp4"}`, procErr: videos.ErrNoFrames, want: http.StatusUnprocessableEntity},
		{name: "detector missing", body: `{"url":"https://scontent.cdninstagram.com/v.mp4"}`, procErr: fmt.Errorf("visual analysis: %w", vision.ErrDetectorUnavailable), want: http.StatusServiceUnavailable},
		{name: "other failure", body: `{"url":"https://scontent.cdninstagram.com/v.mp4"}`, procErr: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AnalyzeHandler{Processor: &processorStub{err: tt.procErr}, Videos: tt.finder}
			rec := postAnalyze(handler, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAnalyzeHandlerStoredVideoFallsBackToMediaURL(t *testing.T) {
	processor := &processorStub{result: sampleResult()}
	finder := videoFinderStub{videos: map[string]models.Video{
		"v2": {VideoID: "v2", VideoURL: "https://scontent.cdninstagram.com/v2.mp4"},
	}}
	handler := AnalyzeHandler{Processor: processor, Videos: finder}

	if rec := postAnalyze(handler, `{"videoId":"v2"}`); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if processor.urls[0] != "https://scontent.cdninstagram.com/v2.mp4" {
		t.Fatalf("expected media url fallback, got %s", processor.urls[0])
	}
}

func TestAnalyzeHandlerCustomAllowedHosts(t *testing.T) {
	processor := &processorStub{result: sampleResult()}
	handler := AnalyzeHandler{Processor: processor, AllowedHosts: []string{"media.example.org"}}

	if rec := postAnalyze(handler, `{"url":"https://cdn1.media.example.org/v.mp4"}`); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if rec := postAnalyze(handler, `{"url":"https://scontent.cdninstagram.com/v.mp4"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected default hosts to be replaced, got %d", rec.Code)
	}
	if len(processor.urls) != 1 {
		t.Fatalf("expected only the allowed url to be processed, got %v", processor.urls)
	}
}

func TestAnalyzeHandlerMethodAndLimiter(t *testing.T) {
	handler := AnalyzeHandler{Processor: &processorStub{}, Limiter: denyLimiter{}}

	rec := httptest.NewRecorder()
	handler.Analyze(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyze", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
	}

	rec = postAnalyze(handler, `{"url":"https://scontent.cdninstagram.com/v.mp4"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusTooManyRequests)
	}
}
