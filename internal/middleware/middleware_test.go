package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/metrics"
)

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := metrics.New()

	var seenID string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/search-tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		seenID = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	})

	handler := RequestLogger(logger, m)(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search-tasks/abc", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seenID != "req-42" {
		t.Fatalf("expected request id in context, got %q", seenID)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("expected request id header, got %q", got)
	}
	if !strings.Contains(buf.String(), `"route":"/api/v1/search-tasks/{id}"`) {
		t.Fatalf("expected route pattern in log: %s", buf.String())
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/v1/search-tasks/{id}", "404")); got != 1 {
		t.Fatalf("expected request to be counted by pattern, got %v", got)
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(2, time.Minute, 2, time.Minute)
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("1.2.3.4") || !limiter.Allow("1.2.3.4") {
		t.Fatal("expected burst to be allowed")
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatal("expected third request to be limited")
	}
	if !limiter.Allow("5.6.7.8") {
		t.Fatal("expected other keys to be unaffected")
	}

	now = now.Add(30 * time.Second)
	if !limiter.Allow("1.2.3.4") {
		t.Fatal("expected a token to refill after half a window")
	}

	now = now.Add(2 * time.Minute)
	limiter.Allow("5.6.7.8")
	if got := limiter.Len(); got != 1 {
		t.Fatalf("expected idle bucket to expire, have %d buckets", got)
	}
}
